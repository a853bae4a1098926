package authz

import (
	"context"
	"encoding/json"
	"net/http"
)

// CapabilitiesFunc resolves the session capabilities of a request.
type CapabilitiesFunc func(*http.Request) (Capabilities, bool)

// PrincipalFunc resolves the principal of a request.
type PrincipalFunc func(*http.Request) (Principal, bool)

// RequestFunc builds the permission request guarding a handler.
type RequestFunc func(*http.Request) PermissionRequest

// StaticRequest always asks for req.
func StaticRequest(req PermissionRequest) RequestFunc {
	return func(*http.Request) PermissionRequest { return req }
}

type denialKey struct{}

// Denial describes why a protected handler fell back.
type Denial struct {
	Reason       string `json:"reason"`
	Check        Check  `json:"check,omitempty"`
	FailedClosed bool   `json:"failed_closed,omitempty"`
}

// DenialFromContext returns the denial recorded for a fallback handler.
func DenialFromContext(ctx context.Context) (Denial, bool) {
	d, ok := ctx.Value(denialKey{}).(Denial)
	return d, ok
}

// DeniedHandler is the default fallback: 403 with the denial reason.
func DeniedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"error": "access denied"}
		if d, ok := DenialFromContext(r.Context()); ok && d.Reason != "" {
			body["reason"] = d.Reason
		}
		writeJSON(w, http.StatusForbidden, body)
	})
}

func unauthenticated(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="agora"`)
	writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "authentication required"})
}

// RequireGate protects next with a synchronous Evaluate against session capabilities.
func RequireGate(req Requirement, caps CapabilitiesFunc, fallback http.Handler) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = DeniedHandler()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := caps(r)
			if !ok {
				unauthenticated(w)
				return
			}
			decision := Evaluate(c, req)
			if !decision.Allowed {
				ctx := context.WithValue(r.Context(), denialKey{}, Denial{Reason: decision.Reason, Check: decision.Check})
				fallback.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission protects next with a remote check issued for every request.
// Nothing is written until the check resolves.
func RequirePermission(checker PermissionChecker, principal PrincipalFunc, request RequestFunc, fallback http.Handler) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = DeniedHandler()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principal(r)
			if !ok {
				unauthenticated(w)
				return
			}
			res := checker.CheckPermission(r.Context(), p, request(r))
			if !res.Allowed {
				ctx := context.WithValue(r.Context(), denialKey{}, Denial{
					Reason:       res.Reason,
					Check:        CheckPermission,
					FailedClosed: res.FailedClosed(),
				})
				fallback.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
