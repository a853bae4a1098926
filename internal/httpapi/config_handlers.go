package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"agora.city/internal/admin"
)

type templateRequest struct {
	Description string   `json:"description" validate:"max=500"`
	Permissions []string `json:"permissions" validate:"required,dive,required"`
}

type applyTemplateRequest struct {
	RoleID string `json:"role_id" validate:"required"`
}

type fieldRulesRequest struct {
	Rules []admin.FieldRule `json:"rules" validate:"required,min=1"`
}

func (a *API) mountConfig(r chi.Router) {
	r.Route("/v1/templates", func(r chi.Router) {
		r.Use(requirePermission(admin.PermTemplatesManage))
		r.Get("/", a.listTemplates)
		r.Get("/{name}", a.getTemplate)
		r.Put("/{name}", a.saveTemplate)
		r.Delete("/{name}", a.deleteTemplate)
		r.Post("/{name}/apply", a.applyTemplate)
	})

	// Field rules feed the Authorization Service, so writes are confirmed there.
	r.Route("/v1/field-rules", func(r chi.Router) {
		r.With(requirePermission(admin.PermRolesView)).Get("/", a.listFieldRules)
		r.With(requirePermission(admin.PermRolesView)).Get("/{entity}", a.getFieldRules)
		r.With(requirePermission(admin.PermFieldSecurityManage), a.requireRemotePermission(admin.PermFieldSecurityManage)).
			Put("/{entity}", a.putFieldRules)
	})

	r.With(requirePermission(admin.PermAnalyticsView)).Get("/v1/analytics/summary", a.summary)
}

func (a *API) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := a.admin.ListTemplates(r.Context())
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": nonNil(templates)})
}

func (a *API) getTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := a.admin.GetTemplate(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) saveTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !a.bind(w, r, &req) {
		return
	}
	t, err := a.admin.SaveTemplate(r.Context(), admin.Template{
		Name:        chi.URLParam(r, "name"),
		Description: req.Description,
		Permissions: req.Permissions,
	})
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.DeleteTemplate(r.Context(), chi.URLParam(r, "name")); err != nil {
		handleAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) applyTemplate(w http.ResponseWriter, r *http.Request) {
	var req applyTemplateRequest
	if !a.bind(w, r, &req) {
		return
	}
	if err := a.admin.ApplyTemplate(r.Context(), chi.URLParam(r, "name"), req.RoleID); err != nil {
		handleAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listFieldRules(w http.ResponseWriter, r *http.Request) {
	sets, err := a.admin.ListFieldRules(r.Context())
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"field_rules": nonNil(sets)})
}

func (a *API) getFieldRules(w http.ResponseWriter, r *http.Request) {
	set, err := a.admin.GetFieldRules(r.Context(), chi.URLParam(r, "entity"))
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (a *API) putFieldRules(w http.ResponseWriter, r *http.Request) {
	var req fieldRulesRequest
	if !a.bind(w, r, &req) {
		return
	}
	set, err := a.admin.PutFieldRules(r.Context(), chi.URLParam(r, "entity"), req.Rules)
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (a *API) summary(w http.ResponseWriter, r *http.Request) {
	s, err := a.admin.Summary(r.Context())
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
