// Package params builds the CloudFormation parameters of each stack kind.
//
// Values the caller supplied are sent; values the caller left out are sent
// as "use previous value" so an update never resets them.
package params

import (
	"context"
	"slices"

	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/bcnelson/stack-manager/internal/codec"
	"github.com/bcnelson/stack-manager/internal/domain"
)

// Builder builds the parameters of one stack kind. current holds the
// parameter keys of the stack being updated and is nil on create.
type Builder interface {
	Build(ctx context.Context, op domain.Operation, req domain.StackRequest, current []string) ([]cftypes.Parameter, error)
}

// set collects supplied values and the keys to reuse, in insertion order.
type set struct {
	values map[string]*string
	reuse  []string
}

func newSet() *set {
	return &set{values: make(map[string]*string)}
}

// put sends v, or marks key for reuse when v is nil.
func (s *set) put(key string, v *string) {
	if v == nil {
		s.reuse = append(s.reuse, key)
		return
	}
	s.values[key] = v
}

// parameters returns the supplied values followed by the reused keys. On
// update the reused keys are every current key without a supplied value, so
// keys the stack does not have are never reused.
func (s *set) parameters(op domain.Operation, current []string) []cftypes.Parameter {
	reuse := s.reuse
	if op == domain.OperationUpdate {
		reuse = nil
		for _, key := range current {
			if _, supplied := s.values[key]; !supplied && !slices.Contains(reuse, key) {
				reuse = append(reuse, key)
			}
		}
	}
	return append(codec.ToParameters(s.values, true), codec.ReuseParameters(reuse)...)
}
