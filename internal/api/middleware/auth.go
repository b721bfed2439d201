package middleware

import (
	"errors"
	"net/http"

	"github.com/bcnelson/stack-manager/internal/api/handler"
	"github.com/bcnelson/stack-manager/internal/auth"
	"github.com/bcnelson/stack-manager/internal/domain"
	"github.com/bcnelson/stack-manager/internal/log"
)

// Auth creates authentication middleware. Requests without a valid caller
// are rejected with 401.
func Auth(authenticator auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := authenticator.Authenticate(r)
			if err != nil {
				if errors.Is(err, auth.ErrUnauthenticated) {
					err = domain.NewError(domain.KindPermissionDenied, "authentication required", err)
				}
				handler.Error(err).Write(w)
				return
			}

			logger := log.Ctx(r.Context()).With().
				Str("caller", caller.Identity).
				Str("group", caller.Group).
				Logger()
			ctx := auth.WithCaller(logger.WithContext(r.Context()), caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Require rejects callers whose roles do not grant p. It does nothing when
// enforce is false.
func Require(enforce bool, p domain.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enforce {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := auth.CallerFromContext(r.Context())
			if caller == nil || !caller.Can(p) {
				handler.Error(domain.NewError(domain.KindPermissionDenied,
					"the caller's roles do not allow "+string(p), nil)).Write(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
