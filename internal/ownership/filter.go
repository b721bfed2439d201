// Package ownership decides which stacks a caller may see.
//
// A stack is visible to a caller only when it is part of the platform, is of
// the kind being managed and is owned by the caller's group.
package ownership

import (
	"github.com/bcnelson/stack-manager/internal/config"
	"github.com/bcnelson/stack-manager/internal/domain"
)

// Verdict is the outcome of a filter check.
type Verdict int

const (
	Allowed Verdict = iota
	NotPlatform
	WrongKind
	NotOwner
)

// String returns a short description used in debug logs.
func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case NotPlatform:
		return "not part of the platform"
	case WrongKind:
		return "not of the requested type"
	case NotOwner:
		return "not owned by the caller's group"
	default:
		return "unknown"
	}
}

// Filter checks the tag set of a stack against a caller.
type Filter struct {
	Keys  config.TagConfig
	Kind  domain.Kind
	Group string
}

// New creates a filter for the given kind and caller group.
func New(keys config.TagConfig, kind domain.Kind, group string) *Filter {
	return &Filter{Keys: keys, Kind: kind, Group: group}
}

// Check returns the first rule the tags fail, or Allowed.
func (f *Filter) Check(tags map[string]string) Verdict {
	if _, ok := tags[f.Keys.Version]; !ok {
		return NotPlatform
	}
	if f.Kind != domain.KindAny {
		if kind, ok := tags[f.Keys.Type]; !ok || kind != string(f.Kind) {
			return WrongKind
		}
	}
	if !f.OwnedBy(tags) {
		return NotOwner
	}
	return Allowed
}

// OwnedBy reports whether the owner group tag equals the caller's group. An
// empty caller group never owns anything.
func (f *Filter) OwnedBy(tags map[string]string) bool {
	if f.Group == "" {
		return false
	}
	owner, ok := tags[f.Keys.Groups]
	return ok && owner == f.Group
}
