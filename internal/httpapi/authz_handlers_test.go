package httpapi

import (
	"errors"
	"net/http"
	"testing"

	"agora.city/internal/authz"
)

func TestCheckPermissionForwardsToService(t *testing.T) {
	env := newTestEnv(t)
	env.authz.set(func(s *stubAuthorizer) { s.allow["challenge_edit"] = true })
	token := env.token("ana")

	var res authz.PermissionResult
	decode(t, env.do(http.MethodPost, "/v1/authz/check", token, map[string]any{
		"permission":    "challenge_edit",
		"resource_type": "challenge",
		"resource_id":   "c-1",
	}), http.StatusOK, &res)
	if !res.Allowed || res.Outcome != authz.OutcomeGranted {
		t.Fatalf("expected grant, got %+v", res)
	}

	decode(t, env.do(http.MethodPost, "/v1/authz/check", token, map[string]any{"permission": "budget_view"}), http.StatusOK, &res)
	if res.Allowed || res.Outcome != authz.OutcomeDenied || res.Reason != "missing budget_view" {
		t.Fatalf("expected policy denial, got %+v", res)
	}
}

func TestCheckPermissionFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	env.authz.set(func(s *stubAuthorizer) { s.err = errors.New("edge function timeout") })

	var res authz.PermissionResult
	decode(t, env.do(http.MethodPost, "/v1/authz/check", env.token("ana"), map[string]any{"permission": "challenge_edit"}), http.StatusOK, &res)
	if res.Allowed || res.Reason != authz.ReasonValidationFailed || res.Outcome != authz.OutcomeFailed {
		t.Fatalf("expected fail-closed denial, got %+v", res)
	}
}

func TestCheckPermissionValidatesBody(t *testing.T) {
	env := newTestEnv(t)
	decode(t, env.do(http.MethodPost, "/v1/authz/check", env.token("ana"), map[string]any{}), http.StatusBadRequest, nil)
	decode(t, env.do(http.MethodPost, "/v1/authz/field", env.token("ana"), map[string]any{
		"entity_type": "Challenge", "field": "budget", "operation": "delete",
	}), http.StatusBadRequest, nil)
}

func TestFieldCheck(t *testing.T) {
	env := newTestEnv(t)
	env.authz.set(func(s *stubAuthorizer) {
		s.fields["budget"] = authz.FieldAccessResult{Allowed: false, Reason: "restricted", Sensitive: true}
	})

	var res authz.FieldAccessResult
	decode(t, env.do(http.MethodPost, "/v1/authz/field", env.token("ana"), map[string]any{
		"entity_type": "Challenge", "field": "budget", "operation": "read",
	}), http.StatusOK, &res)
	if res.Allowed || !res.Sensitive || res.Outcome != authz.OutcomeDenied {
		t.Fatalf("expected sensitive denial, got %+v", res)
	}
}

func TestGateUsesSessionCapabilities(t *testing.T) {
	env := newTestEnv(t)
	token := env.token("ana", "roles.view")

	var d authz.Decision
	decode(t, env.do(http.MethodPost, "/v1/authz/gate", token, map[string]any{
		"requirement": map[string]any{"permissions": []string{"roles.view", "roles.manage"}, "any_permission": true},
	}), http.StatusOK, &d)
	if !d.Allowed {
		t.Fatalf("expected any-permission gate to pass, got %+v", d)
	}

	decode(t, env.do(http.MethodPost, "/v1/authz/gate", token, map[string]any{
		"requirement": map[string]any{"require_admin": true},
	}), http.StatusOK, &d)
	if d.Allowed || d.Check != authz.CheckAdmin {
		t.Fatalf("expected admin denial, got %+v", d)
	}
	if len(env.authz.calls) != 0 {
		t.Fatalf("gate evaluation must not reach the Authorization Service")
	}
}

func TestRedactMasksDeniedFields(t *testing.T) {
	env := newTestEnv(t)
	env.authz.set(func(s *stubAuthorizer) {
		s.fields["budget"] = authz.FieldAccessResult{Allowed: false, Reason: "restricted", Sensitive: true}
		s.fields["owner_notes"] = authz.FieldAccessResult{Allowed: false, Reason: "owners only"}
	})

	var red authz.Redaction
	decode(t, env.do(http.MethodPost, "/v1/authz/redact", env.token("ana"), map[string]any{
		"entity_type": "Challenge",
		"record":      map[string]any{"title": "Clean the river", "budget": 1200, "owner_notes": "n/a"},
	}), http.StatusOK, &red)
	if len(red.Visible) != 1 || red.Visible["title"] != "Clean the river" {
		t.Fatalf("unexpected visible fields %v", red.Visible)
	}
	if len(red.Masked) != 2 || red.Masked[0].Field != "budget" || !red.Masked[0].Sensitive || red.Masked[1].Sensitive {
		t.Fatalf("unexpected masked fields %+v", red.Masked)
	}
}
