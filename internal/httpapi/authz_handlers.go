package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"agora.city/internal/auth"
	"agora.city/internal/authz"
)

type checkRequest struct {
	Permission   string `json:"permission" validate:"required,max=100"`
	ResourceType string `json:"resource_type" validate:"max=100"`
	ResourceID   string `json:"resource_id" validate:"max=200"`
	Action       string `json:"action" validate:"max=100"`
}

type fieldCheckRequest struct {
	EntityType string `json:"entity_type" validate:"required,max=100"`
	Field      string `json:"field" validate:"required,max=100"`
	Operation  string `json:"operation" validate:"required,oneof=read write"`
}

type redactRequest struct {
	EntityType string         `json:"entity_type" validate:"required,max=100"`
	Record     map[string]any `json:"record" validate:"required"`
}

type gateRequest struct {
	Requirement authz.Requirement `json:"requirement"`
}

type sessionResponse struct {
	ID          string   `json:"id"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Admin       bool     `json:"admin"`
}

func (a *API) mountAuthz(r chi.Router) {
	r.Route("/v1/authz", func(r chi.Router) {
		r.Post("/check", a.checkPermission)
		r.Post("/field", a.checkField)
		r.Post("/gate", a.evaluateGate)
		r.Post("/redact", a.redact)
	})
}

// checkPermission asks the Authorization Service about the session principal.
// Failures arrive as fail-closed denials, so the answer is always 200.
func (a *API) checkPermission(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !a.bind(w, r, &req) {
		return
	}
	p, _ := sessionPrincipal(r)
	res := a.authz.CheckPermission(r.Context(), p, authz.PermissionRequest{
		Permission:   req.Permission,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Action:       req.Action,
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) checkField(w http.ResponseWriter, r *http.Request) {
	var req fieldCheckRequest
	if !a.bind(w, r, &req) {
		return
	}
	p, _ := sessionPrincipal(r)
	res := a.authz.CheckFieldAccess(r.Context(), p, authz.FieldAccessRequest{
		EntityType: req.EntityType,
		Field:      req.Field,
		Operation:  authz.Operation(req.Operation),
	})
	writeJSON(w, http.StatusOK, res)
}

// evaluateGate evaluates a requirement against the session without I/O.
func (a *API) evaluateGate(w http.ResponseWriter, r *http.Request) {
	var req gateRequest
	if !a.bind(w, r, &req) {
		return
	}
	caps, _ := sessionCapabilities(r)
	writeJSON(w, http.StatusOK, authz.Evaluate(caps, req.Requirement))
}

func (a *API) redact(w http.ResponseWriter, r *http.Request) {
	var req redactRequest
	if !a.bind(w, r, &req) {
		return
	}
	p, _ := sessionPrincipal(r)
	writeJSON(w, http.StatusOK, a.authz.Redact(r.Context(), p, strings.TrimSpace(req.EntityType), req.Record))
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	roles := p.Roles
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:          p.ID,
		Email:       p.Email,
		Roles:       roles,
		Permissions: p.PermissionList(),
		Admin:       p.Admin,
	})
}
