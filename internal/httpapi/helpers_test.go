package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"agora.city/internal/admin"
	"agora.city/internal/auth"
	"agora.city/internal/authz"
	"agora.city/internal/events"
	"agora.city/internal/kv"
	"agora.city/internal/store/memory"
)

// stubAuthorizer grants the permission codes in allow and fails when err is set.
type stubAuthorizer struct {
	mu     sync.Mutex
	allow  map[string]bool
	fields map[string]authz.FieldAccessResult
	err    error
	calls  []authz.PermissionRequest
}

func (s *stubAuthorizer) CheckPermission(_ context.Context, _ authz.Principal, req authz.PermissionRequest) (authz.PermissionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return authz.PermissionResult{}, s.err
	}
	if s.allow[req.Permission] {
		return authz.PermissionResult{Allowed: true, Reason: "granted by policy"}, nil
	}
	return authz.PermissionResult{Allowed: false, Reason: "missing " + req.Permission}, nil
}

func (s *stubAuthorizer) CheckFieldAccess(_ context.Context, _ authz.Principal, req authz.FieldAccessRequest) (authz.FieldAccessResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return authz.FieldAccessResult{}, s.err
	}
	if res, ok := s.fields[req.Field]; ok {
		return res, nil
	}
	return authz.FieldAccessResult{Allowed: true, Reason: "public"}, nil
}

func (s *stubAuthorizer) set(fn func(*stubAuthorizer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

type testEnv struct {
	t      *testing.T
	srv    *httptest.Server
	api    *API
	admin  *admin.Service
	store  *memory.Store
	authz  *stubAuthorizer
	tokens *auth.Tokens
	broker *events.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	if err := admin.Bootstrap(ctx, store, time.Now().UTC()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	broker := events.NewBroker()
	svc, err := admin.NewService(store, kv.NewMemory(), admin.WithPublisher(broker))
	if err != nil {
		t.Fatalf("admin service: %v", err)
	}
	stub := &stubAuthorizer{allow: map[string]bool{}, fields: map[string]authz.FieldAccessResult{}}
	client, err := authz.NewClient(stub, authz.WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("authz client: %v", err)
	}
	tokens, err := auth.NewTokens("test-secret")
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	api, err := New(Deps{Admin: svc, Authz: client, Tokens: tokens, Events: broker}, Options{
		Version:    "test",
		RateBurst:  1000,
		RatePerSec: 1000,
		DevTokens:  true,
	})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{t: t, srv: srv, api: api, admin: svc, store: store, authz: stub, tokens: tokens, broker: broker}
}

// token mints a session for user holding perms.
func (e *testEnv) token(user string, perms ...string) string {
	e.t.Helper()
	tok, _, err := e.tokens.Generate(auth.NewPrincipal(user, user+"@agora.city", nil, perms, false), time.Hour)
	if err != nil {
		e.t.Fatalf("generate token: %v", err)
	}
	return tok
}

func (e *testEnv) adminToken(user string) string {
	e.t.Helper()
	tok, _, err := e.tokens.Generate(auth.NewPrincipal(user, "", []string{"admin"}, nil, true), time.Hour)
	if err != nil {
		e.t.Fatalf("generate token: %v", err)
	}
	return tok
}

func (e *testEnv) do(method, path, token string, body any) *http.Response {
	e.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(payload))
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// decode reads the body into v, checking the status first.
func decode(t *testing.T, resp *http.Response, want int, v any) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		t.Fatalf("expected %d, got %d (%v)", want, resp.StatusCode, body)
	}
	if v == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func (e *testEnv) roleByName(name string) admin.Role {
	e.t.Helper()
	roles, err := e.admin.ListRoles(context.Background())
	if err != nil {
		e.t.Fatalf("list roles: %v", err)
	}
	for _, r := range roles {
		if r.Name == name {
			return r
		}
	}
	e.t.Fatalf("role %s not found", name)
	return admin.Role{}
}
