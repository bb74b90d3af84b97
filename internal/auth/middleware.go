package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

// ErrorWriter renders an auth failure in the caller's response format.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, err error)

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok && p != nil
}

// Authenticate requires a valid bearer token and stores its principal in the
// request context.
func Authenticate(tokens *Tokens, fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				fail(w, r, http.StatusUnauthorized, ErrMissingToken)
				return
			}
			p, err := tokens.Parse(raw)
			if err != nil {
				fail(w, r, http.StatusUnauthorized, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole lets through principals holding one of roles. Admins always pass.
func RequireRole(fail ErrorWriter, roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				fail(w, r, http.StatusUnauthorized, ErrMissingToken)
				return
			}
			if !p.Is(roles...) {
				fail(w, r, http.StatusForbidden, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Is reports whether p has one of roles, counting admin as every role.
func (p *Principal) Is(roles ...Role) bool {
	if p.Role == RoleAdmin {
		return true
	}
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	return false
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
