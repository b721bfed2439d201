package auth

import (
	"net/http"

	"github.com/bcnelson/stack-manager/internal/domain"
)

// Identity headers read in header mode.
const (
	IdentityHeader = "X-Auth-Identity"
	GroupsHeader   = "X-Auth-Groups"
	RolesHeader    = "X-Auth-Roles"
)

// HeaderAuthenticator trusts identity headers set by an authenticating
// gateway in front of the service.
type HeaderAuthenticator struct{}

// NewHeaderAuthenticator creates a header authenticator.
func NewHeaderAuthenticator() *HeaderAuthenticator {
	return &HeaderAuthenticator{}
}

// Authenticate implements Authenticator.
func (HeaderAuthenticator) Authenticate(r *http.Request) (*domain.Caller, error) {
	return newCaller(
		r.Header.Get(IdentityHeader),
		splitList(r.Header.Get(GroupsHeader)),
		splitList(r.Header.Get(RolesHeader)),
		r.Header.Get(GroupHeader),
	)
}
