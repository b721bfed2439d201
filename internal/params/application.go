package params

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/bcnelson/stack-manager/internal/codec"
	"github.com/bcnelson/stack-manager/internal/domain"
	"github.com/bcnelson/stack-manager/internal/log"
	"github.com/bcnelson/stack-manager/internal/priority"
)

// Application template parameters.
const (
	ParamDesiredCount    = "DesiredCount"
	ParamHealthCheckPath = "HealthCheckPath"
	ParamDockerImage     = "DockerImage"
	ParamPriority        = "Priority"
	ParamListener        = "Listener"
)

// ListenerSource returns the ARN of the shared listener.
type ListenerSource interface {
	ListenerARN(ctx context.Context) (string, error)
}

// RuleSource returns the priorities in use on a listener.
type RuleSource interface {
	Priorities(ctx context.Context, listenerARN string) (map[int]struct{}, error)
}

// Allocator picks an unused priority.
type Allocator interface {
	Allocate(existing map[int]struct{}) (int, error)
}

// Application builds parameters of application stacks. A new application
// gets a rule priority on the shared listener that it keeps for its
// lifetime.
type Application struct {
	listener  ListenerSource
	rules     RuleSource
	allocator Allocator
}

// NewApplication creates an application parameter builder.
func NewApplication(listener ListenerSource, rules RuleSource, allocator Allocator) *Application {
	return &Application{listener: listener, rules: rules, allocator: allocator}
}

// Build implements Builder.
func (a *Application) Build(ctx context.Context, op domain.Operation, req domain.StackRequest, current []string) ([]cftypes.Parameter, error) {
	s := newSet()

	var tasks *string
	if req.Tasks != nil {
		tasks = codec.Value(strconv.Itoa(*req.Tasks))
	}
	s.put(ParamDesiredCount, tasks)
	s.put(ParamHealthCheckPath, req.HealthCheckPath)
	s.put(ParamDockerImage, req.Image)

	// Priority and Listener are only sent on create; an update reuses them
	// with every other key the request leaves out.
	if op == domain.OperationCreate {
		arn, p, err := a.priority(ctx)
		if err != nil {
			return nil, err
		}
		s.put(ParamPriority, codec.Value(strconv.Itoa(p)))
		s.put(ParamListener, codec.Value(arn))
	}

	params := s.parameters(op, current)
	log.Ctx(ctx).Debug().Int("parameters", len(params)).Msg("built application parameters")
	return params, nil
}

func (a *Application) priority(ctx context.Context) (string, int, error) {
	arn, err := a.listener.ListenerARN(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("resolving listener: %w", err)
	}

	existing, err := a.rules.Priorities(ctx, arn)
	if err != nil {
		return "", 0, err
	}

	p, err := a.allocator.Allocate(existing)
	if errors.Is(err, priority.ErrExhausted) {
		return "", 0, domain.NewError(domain.KindLimitExceeded, "no listener rule priority is available", err)
	}
	if err != nil {
		return "", 0, err
	}

	log.Ctx(ctx).Debug().Int("priority", p).Int("in_use", len(existing)).Msg("allocated listener rule priority")
	return arn, p, nil
}
