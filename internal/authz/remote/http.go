package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agora.city/internal/auth"
	"agora.city/internal/authz"
)

const (
	rbacPath          = "/functions/v1/rbac-manager"
	fieldSecurityPath = "/functions/v1/field-security"
	maxResponseBytes  = 1 << 20
)

// HTTPAuthorizer talks to the Authorization Service's JSON functions.
type HTTPAuthorizer struct {
	base   string
	apiKey string
	client *http.Client
}

// HTTPOption configures HTTPAuthorizer.
type HTTPOption func(*HTTPAuthorizer)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(a *HTTPAuthorizer) {
		if c != nil {
			a.client = c
		}
	}
}

// WithAPIKey sets the apikey header sent with every call.
func WithAPIKey(key string) HTTPOption {
	return func(a *HTTPAuthorizer) { a.apiKey = key }
}

// NewHTTPAuthorizer targets the service rooted at baseURL.
func NewHTTPAuthorizer(baseURL string, opts ...HTTPOption) (*HTTPAuthorizer, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("remote: base url is required")
	}
	a := &HTTPAuthorizer{base: base, client: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

type permissionPayload struct {
	Action         string `json:"action"`
	UserID         string `json:"user_id"`
	UserEmail      string `json:"user_email,omitempty"`
	PermissionCode string `json:"permission_code"`
	ResourceType   string `json:"resource_type,omitempty"`
	ResourceID     string `json:"resource_id,omitempty"`
	ResourceAction string `json:"resource_action,omitempty"`
}

type permissionAnswer struct {
	Allowed         *bool    `json:"allowed"`
	Reason          string   `json:"reason"`
	UserPermissions []string `json:"user_permissions"`
}

type fieldPayload struct {
	Action     string `json:"action"`
	UserID     string `json:"user_id"`
	UserEmail  string `json:"user_email,omitempty"`
	EntityType string `json:"entity_type"`
	FieldName  string `json:"field_name"`
	Operation  string `json:"operation"`
}

type fieldAnswer struct {
	Allowed   *bool  `json:"allowed"`
	Reason    string `json:"reason"`
	Sensitive bool   `json:"sensitive"`
}

// CheckPermission implements authz.Authorizer.
func (a *HTTPAuthorizer) CheckPermission(ctx context.Context, p authz.Principal, req authz.PermissionRequest) (authz.PermissionResult, error) {
	var out permissionAnswer
	err := a.post(ctx, rbacPath, permissionPayload{
		Action:         "check_permission",
		UserID:         p.ID,
		UserEmail:      p.Email,
		PermissionCode: req.Permission,
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		ResourceAction: req.Action,
	}, &out)
	if err != nil {
		return authz.PermissionResult{}, err
	}
	if out.Allowed == nil {
		return authz.PermissionResult{}, fmt.Errorf("%w: missing allowed", ErrBadResponse)
	}
	return authz.PermissionResult{
		Allowed:     *out.Allowed,
		Reason:      out.Reason,
		Permissions: out.UserPermissions,
	}, nil
}

// CheckFieldAccess implements authz.Authorizer.
func (a *HTTPAuthorizer) CheckFieldAccess(ctx context.Context, p authz.Principal, req authz.FieldAccessRequest) (authz.FieldAccessResult, error) {
	var out fieldAnswer
	err := a.post(ctx, fieldSecurityPath, fieldPayload{
		Action:     "check_field_access",
		UserID:     p.ID,
		UserEmail:  p.Email,
		EntityType: req.EntityType,
		FieldName:  req.Field,
		Operation:  string(req.Operation),
	}, &out)
	if err != nil {
		return authz.FieldAccessResult{}, err
	}
	if out.Allowed == nil {
		return authz.FieldAccessResult{}, fmt.Errorf("%w: missing allowed", ErrBadResponse)
	}
	return authz.FieldAccessResult{
		Allowed:   *out.Allowed,
		Reason:    out.Reason,
		Sensitive: out.Sensitive,
	}, nil
}

func (a *HTTPAuthorizer) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("apikey", a.apiKey)
	}
	if token, ok := auth.TokenFromContext(ctx); ok {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthenticated, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}
