package params

import (
	"context"

	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/bcnelson/stack-manager/internal/codec"
	"github.com/bcnelson/stack-manager/internal/domain"
)

// ParamGitHubToken is the source credential of pipeline stacks.
const ParamGitHubToken = "GitHubToken"

// EnvironmentParams are the parameters the target environments of a
// pipeline are passed in, in order.
var EnvironmentParams = []string{"ServiceProd", "ServiceDev", "ServiceTest"}

// Pipeline builds parameters of pipeline stacks.
type Pipeline struct {
	prefix string
}

// NewPipeline creates a pipeline parameter builder. Environment names are
// stack names and get the platform prefix.
func NewPipeline(prefix string) *Pipeline {
	return &Pipeline{prefix: prefix}
}

// Build implements Builder.
func (p *Pipeline) Build(_ context.Context, op domain.Operation, req domain.StackRequest, current []string) ([]cftypes.Parameter, error) {
	if len(req.Environments) > len(EnvironmentParams) {
		return nil, domain.InvalidInput("a pipeline deploys to at most %d environments", len(EnvironmentParams))
	}
	if op == domain.OperationCreate && len(req.Environments) == 0 {
		return nil, domain.InvalidInput("a pipeline needs at least one environment")
	}

	s := newSet()
	for i, env := range req.Environments {
		s.put(EnvironmentParams[i], codec.Value(p.prefix+"-"+env))
	}

	if _, ok := req.Source[ParamGitHubToken]; !ok {
		s.put(ParamGitHubToken, nil)
	}
	for k, v := range req.Source {
		s.put(k, codec.Value(v))
	}

	return s.parameters(op, current), nil
}
