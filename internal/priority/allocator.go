// Package priority assigns listener rule priorities to new applications.
//
// Priorities are sampled uniformly from the unused part of the namespace
// instead of taking max+1: two concurrent creates reading the same snapshot
// then only collide when they draw the same value. Nothing here locks or
// retries; a collision surfaces when the backend creates the rule.
package priority

import (
	"errors"
	"math/rand/v2"

	"github.com/bcnelson/stack-manager/internal/metrics"
)

// Limit is the size of the priority namespace. Valid priorities are
// [0, Limit).
const Limit = 50000

// ErrExhausted is returned when every priority is taken.
var ErrExhausted = errors.New("no listener rule priority available")

// Allocator picks unused priorities.
type Allocator struct {
	intN func(n int) int
}

// NewAllocator creates an allocator backed by the global random source.
func NewAllocator() *Allocator {
	return &Allocator{intN: rand.IntN}
}

// NewAllocatorWithRand creates an allocator with its own random source.
func NewAllocatorWithRand(r *rand.Rand) *Allocator {
	return &Allocator{intN: r.IntN}
}

// Allocate returns a priority in [0, Limit) that is not in existing, chosen
// uniformly at random. Values of existing outside the namespace are ignored.
func (a *Allocator) Allocate(existing map[int]struct{}) (int, error) {
	taken := 0
	for p := range existing {
		if p >= 0 && p < Limit {
			taken++
		}
	}

	free := Limit - taken
	if free == 0 {
		metrics.PriorityAllocations.WithLabelValues("exhausted").Inc()
		return 0, ErrExhausted
	}

	// Pick the k-th free priority.
	k := a.intN(free)
	for p := 0; p < Limit; p++ {
		if _, used := existing[p]; used {
			continue
		}
		if k == 0 {
			metrics.PriorityAllocations.WithLabelValues("ok").Inc()
			return p, nil
		}
		k--
	}

	// Unreachable: free counts exactly the priorities walked above.
	return 0, ErrExhausted
}
