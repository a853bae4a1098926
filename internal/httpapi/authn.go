package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"agora.city/internal/auth"
	"agora.city/internal/authz"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth resolves the session principal from a bearer token.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="agora"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		principal, err := a.tokens.Authenticate(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="agora", error="invalid_token"`)
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionCapabilities exposes the session principal to RequireGate.
func sessionCapabilities(r *http.Request) (authz.Capabilities, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return authz.Capabilities{}, false
	}
	return authz.Capabilities{Admin: p.Admin, Roles: p.Roles, HasPermission: p.HasPermission}, true
}

// sessionPrincipal identifies the caller to the Authorization Service.
func sessionPrincipal(r *http.Request) (authz.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return authz.Principal{}, false
	}
	return authz.Principal{ID: p.ID, Email: p.Email}, true
}

// requirePermission gates a route on a permission code of the session.
func requirePermission(code string) func(http.Handler) http.Handler {
	return authz.RequireGate(authz.Requirement{Permission: code}, sessionCapabilities, nil)
}

// requireAnyPermission gates a route on any of the codes.
func requireAnyPermission(codes ...string) func(http.Handler) http.Handler {
	return authz.RequireGate(authz.Requirement{Permissions: codes, AnyPermission: true}, sessionCapabilities, nil)
}

// requireRemotePermission asks the Authorization Service on every request.
func (a *API) requireRemotePermission(code string) func(http.Handler) http.Handler {
	return authz.RequirePermission(a.authz, sessionPrincipal, authz.StaticRequest(authz.PermissionRequest{Permission: code}), nil)
}

func actorID(r *http.Request) string {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p.ID
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
