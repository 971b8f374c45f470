package authapi

import (
	"context"
	"net/http"
	"strings"

	"trustcore/cmd/internal/auth/authn"
	"trustcore/cmd/internal/auth/tokens"
)

// RoleService is the role attached to callers presenting a service token.
const RoleService = "SERVICE"

// Caller is whoever presented a valid bearer token.
// Exactly one of Account and Service is set.
type Caller struct {
	Account *authn.Principal
	Service *ServicePrincipal
}

// ServicePrincipal is an internal caller authenticated by a service token.
type ServicePrincipal struct {
	Name        string
	Roles       []string
	Permissions []string
}

type callerKey struct{}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// Authenticate verifies the bearer token and attaches the caller to the request.
//
// Security contract:
//   - Access tokens are resolved to a live account; a deleted account is rejected.
//   - Service tokens authorize from their claims alone and get RoleService.
//   - Refresh tokens are never accepted as bearer credentials.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		id, err := h.tokens.Verify(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
			return
		}

		var c Caller
		switch id.Type {
		case tokens.TypeService:
			c.Service = &ServicePrincipal{
				Name:        id.ServiceName,
				Roles:       []string{RoleService},
				Permissions: id.Permissions,
			}
		case tokens.TypeAccess:
			p, err := h.auth.Authorize(r.Context(), id)
			if err != nil {
				h.writeServiceError(w, r, err)
				return
			}
			c.Account = &p
		default:
			writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

// requireAccount returns the account principal or answers 401/403.
func requireAccount(w http.ResponseWriter, r *http.Request) (authn.Principal, bool) {
	c, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return authn.Principal{}, false
	}
	if c.Account == nil {
		writeError(w, http.StatusForbidden, "forbidden", "account token required")
		return authn.Principal{}, false
	}
	return *c.Account, true
}

func bearerToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if v == "" {
		return ""
	}
	scheme, tok, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
