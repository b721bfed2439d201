// Package auth identifies the caller of a request.
package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/bcnelson/stack-manager/internal/domain"
)

// GroupHeader selects the acting group when the caller belongs to several.
const GroupHeader = "X-Owner-Group"

// ErrUnauthenticated means the request carries no valid credentials.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator identifies the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (*domain.Caller, error)
}

type contextKey string

const callerContextKey contextKey = "caller"

// WithCaller stores the caller in ctx.
func WithCaller(ctx context.Context, c *domain.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, c)
}

// CallerFromContext retrieves the caller from the request context.
func CallerFromContext(ctx context.Context) *domain.Caller {
	c, _ := ctx.Value(callerContextKey).(*domain.Caller)
	return c
}

// newCaller builds a caller from its identity, group memberships and roles.
// The acting group is the requested one, which must be a membership, or the
// only membership. A caller in several groups who requests none acts
// without a group and can only read.
func newCaller(identity string, groups, roles []string, requested string) (*domain.Caller, error) {
	if identity == "" {
		return nil, ErrUnauthenticated
	}

	c := &domain.Caller{Identity: identity, Roles: roles}
	switch {
	case requested != "":
		if !slices.Contains(groups, requested) {
			return nil, domain.NewError(domain.KindPermissionDenied, "the caller is not a member of group "+requested, nil)
		}
		c.Group = requested
	case len(groups) == 1:
		c.Group = groups[0]
	}
	return c, nil
}

// splitList splits a comma separated header value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
