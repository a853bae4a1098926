package httpapi

import (
	"net/http"
	"time"

	"agora.city/internal/audit"
	"agora.city/internal/auth"
)

type tokenRequest struct {
	User        string   `json:"user" validate:"required,max=200"`
	Email       string   `json:"email" validate:"omitempty,email"`
	Roles       []string `json:"roles" validate:"dive,required"`
	Permissions []string `json:"permissions" validate:"dive,required"`
	Admin       bool     `json:"admin"`
	TTLSeconds  int      `json:"ttl_seconds" validate:"omitempty,min=60,max=86400"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

// handleAuthToken mints a session token for local development. It is only
// mounted outside production.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !a.bind(w, r, &req) {
		return
	}
	ttl := tokenTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	principal := auth.NewPrincipal(req.User, req.Email, req.Roles, req.Permissions, req.Admin)
	if principal.ID == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}
	token, expiresAt, err := a.tokens.Generate(principal, ttl)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user":       principal.ID,
		"roles":      principal.Roles,
		"admin":      principal.Admin,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}
