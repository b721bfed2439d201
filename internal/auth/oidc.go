package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/bcnelson/stack-manager/internal/config"
	"github.com/bcnelson/stack-manager/internal/domain"
	"github.com/bcnelson/stack-manager/internal/log"
)

// OIDCAuthenticator verifies bearer ID tokens issued by an OIDC provider.
// When access tokens are accepted, a token that is not a valid ID token is
// exchanged for the user's claims at the provider's userinfo endpoint.
type OIDCAuthenticator struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	cfg      config.AuthConfig
}

// NewOIDCAuthenticator creates an authenticator with provider discovery.
func NewOIDCAuthenticator(ctx context.Context, cfg config.AuthConfig) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	return &OIDCAuthenticator{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		cfg:      cfg,
	}, nil
}

// NewOIDCAuthenticatorWithVerifier creates an authenticator around an
// existing verifier. Access tokens are never accepted.
func NewOIDCAuthenticatorWithVerifier(verifier *oidc.IDTokenVerifier, cfg config.AuthConfig) *OIDCAuthenticator {
	cfg.AcceptAccessTokens = false
	return &OIDCAuthenticator{verifier: verifier, cfg: cfg}
}

// Authenticate implements Authenticator.
func (a *OIDCAuthenticator) Authenticate(r *http.Request) (*domain.Caller, error) {
	raw, ok := bearerToken(r)
	if !ok {
		return nil, ErrUnauthenticated
	}

	claims, err := a.claims(r.Context(), raw)
	if err != nil {
		log.Ctx(r.Context()).Debug().Err(err).Msg("token rejected")
		return nil, ErrUnauthenticated
	}

	return newCaller(
		claimString(claims, "email"),
		claimList(claims, a.cfg.GroupsClaim),
		claimList(claims, a.cfg.RolesClaim),
		r.Header.Get(GroupHeader),
	)
}

func (a *OIDCAuthenticator) claims(ctx context.Context, raw string) (map[string]any, error) {
	claims := make(map[string]any)

	idToken, err := a.verifier.Verify(ctx, raw)
	if err == nil {
		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("failed to parse claims: %w", err)
		}
		return claims, nil
	}
	if !a.cfg.AcceptAccessTokens || a.provider == nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	info, err := a.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: raw, TokenType: "Bearer"}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}
	if _, ok := claims["email"]; !ok {
		claims["email"] = info.Email
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func claimString(claims map[string]any, name string) string {
	s, _ := claims[name].(string)
	return s
}

// claimList reads a claim that is either a list of strings or a single
// comma separated string.
func claimList(claims map[string]any, name string) []string {
	switch v := claims[name].(type) {
	case string:
		return splitList(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
