package params

import (
	"context"

	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/bcnelson/stack-manager/internal/codec"
	"github.com/bcnelson/stack-manager/internal/domain"
)

// Service builds parameters of service stacks from the request config as is.
type Service struct{}

// NewService creates a service parameter builder.
func NewService() *Service {
	return &Service{}
}

// Build implements Builder.
func (Service) Build(_ context.Context, op domain.Operation, req domain.StackRequest, current []string) ([]cftypes.Parameter, error) {
	s := newSet()
	for k, v := range req.Config {
		s.put(k, codec.Value(v))
	}
	return s.parameters(op, current), nil
}
