package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"agora.city/internal/events"
	"agora.city/internal/kv"
)

const (
	templateKeyPrefix   = "permission_template:"
	fieldRulesKeyPrefix = "field_security:"
)

var (
	templateNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	entityNamePattern   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

// Template is a named, reusable set of permission codes.
type Template struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FieldRule declares who may read or write one field of an entity. The rules
// are evaluated by the Authorization Service, not here.
type FieldRule struct {
	Field      string   `json:"field"`
	Sensitive  bool     `json:"sensitive"`
	ReadRoles  []string `json:"read_roles,omitempty"`
	WriteRoles []string `json:"write_roles,omitempty"`
}

// FieldRuleSet is the complete field-security configuration of one entity type.
type FieldRuleSet struct {
	Entity    string      `json:"entity"`
	Rules     []FieldRule `json:"rules"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Templates ------------------------------------------------------------------

// SaveTemplate creates or replaces a template. Every code must exist in the catalogue.
func (s *Service) SaveTemplate(ctx context.Context, t Template) (Template, error) {
	t.Name = strings.TrimSpace(strings.ToLower(t.Name))
	if !templateNamePattern.MatchString(t.Name) {
		return Template{}, fmt.Errorf("%w: template name %q is invalid", ErrInvalidInput, t.Name)
	}
	codes := uniqueIDs(t.Permissions)
	if len(codes) == 0 {
		return Template{}, fmt.Errorf("%w: template needs at least one permission", ErrInvalidInput)
	}
	if _, err := s.resolveCodes(ctx, codes); err != nil {
		return Template{}, err
	}
	sort.Strings(codes)
	t.Permissions = codes
	t.Description = strings.TrimSpace(t.Description)
	t.UpdatedAt = s.now()
	if err := s.putJSON(ctx, templateKeyPrefix+t.Name, t); err != nil {
		return Template{}, err
	}
	s.emit(ctx, events.KindTemplateSaved, t.Name, map[string]any{"permissions": len(codes)})
	return t, nil
}

func (s *Service) GetTemplate(ctx context.Context, name string) (Template, error) {
	var t Template
	err := s.getJSON(ctx, templateKeyPrefix+strings.TrimSpace(strings.ToLower(name)), &t)
	return t, err
}

func (s *Service) ListTemplates(ctx context.Context) ([]Template, error) {
	entries, err := s.config.List(ctx, templateKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Template, 0, len(entries))
	for _, key := range kv.SortedKeys(entries) {
		var t Template
		if err := json.Unmarshal(entries[key], &t); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Service) DeleteTemplate(ctx context.Context, name string) error {
	name = strings.TrimSpace(strings.ToLower(name))
	if err := s.config.Delete(ctx, templateKeyPrefix+name); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return fmt.Errorf("%w: template %s", ErrNotFound, name)
		}
		return err
	}
	s.emit(ctx, events.KindTemplateDeleted, name, nil)
	return nil
}

// ApplyTemplate replaces a role's permissions with the template's. System roles
// are never rewritten from a template.
func (s *Service) ApplyTemplate(ctx context.Context, name, roleID string) error {
	t, err := s.GetTemplate(ctx, name)
	if err != nil {
		return err
	}
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.System {
		return fmt.Errorf("%w: %s cannot take a template", ErrSystemRole, role.Name)
	}
	permIDs, err := s.resolveCodes(ctx, t.Permissions)
	if err != nil {
		return err
	}
	if err := s.store.SetRolePermissions(ctx, role.ID, permIDs); err != nil {
		return err
	}
	s.emit(ctx, events.KindTemplateApplied, role.ID, map[string]any{"template": t.Name})
	return nil
}

// resolveCodes maps permission codes to ids, failing on unknown codes.
func (s *Service) resolveCodes(ctx context.Context, codes []string) ([]string, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]string, len(perms))
	for _, p := range perms {
		byCode[p.Code] = p.ID
	}
	out := make([]string, 0, len(codes))
	var unknown []string
	for _, code := range codes {
		id, ok := byCode[code]
		if !ok {
			unknown = append(unknown, code)
			continue
		}
		out = append(out, id)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown permissions %s", ErrInvalidInput, strings.Join(unknown, ", "))
	}
	return out, nil
}

// Field security ---------------------------------------------------------------

func (s *Service) GetFieldRules(ctx context.Context, entity string) (FieldRuleSet, error) {
	entity = strings.TrimSpace(entity)
	if !entityNamePattern.MatchString(entity) {
		return FieldRuleSet{}, fmt.Errorf("%w: entity %q is invalid", ErrInvalidInput, entity)
	}
	var set FieldRuleSet
	err := s.getJSON(ctx, fieldRulesKeyPrefix+entity, &set)
	return set, err
}

func (s *Service) ListFieldRules(ctx context.Context) ([]FieldRuleSet, error) {
	entries, err := s.config.List(ctx, fieldRulesKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]FieldRuleSet, 0, len(entries))
	for _, key := range kv.SortedKeys(entries) {
		var set FieldRuleSet
		if err := json.Unmarshal(entries[key], &set); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, set)
	}
	return out, nil
}

// PutFieldRules replaces the rule set of an entity type.
func (s *Service) PutFieldRules(ctx context.Context, entity string, rules []FieldRule) (FieldRuleSet, error) {
	entity = strings.TrimSpace(entity)
	if !entityNamePattern.MatchString(entity) {
		return FieldRuleSet{}, fmt.Errorf("%w: entity %q is invalid", ErrInvalidInput, entity)
	}
	if len(rules) == 0 {
		return FieldRuleSet{}, fmt.Errorf("%w: at least one field rule is required", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(rules))
	cleaned := make([]FieldRule, 0, len(rules))
	for _, r := range rules {
		r.Field = strings.TrimSpace(r.Field)
		if r.Field == "" {
			return FieldRuleSet{}, fmt.Errorf("%w: field name is required", ErrInvalidInput)
		}
		if _, dup := seen[r.Field]; dup {
			return FieldRuleSet{}, fmt.Errorf("%w: duplicate rule for field %s", ErrInvalidInput, r.Field)
		}
		seen[r.Field] = struct{}{}
		r.ReadRoles = lowerUnique(r.ReadRoles)
		r.WriteRoles = lowerUnique(r.WriteRoles)
		cleaned = append(cleaned, r)
	}
	set := FieldRuleSet{Entity: entity, Rules: cleaned, UpdatedAt: s.now()}
	if err := s.putJSON(ctx, fieldRulesKeyPrefix+entity, set); err != nil {
		return FieldRuleSet{}, err
	}
	s.emit(ctx, events.KindFieldRulesUpdated, entity, map[string]any{"rules": len(cleaned)})
	return set, nil
}

func lowerUnique(in []string) []string {
	lowered := make([]string, 0, len(in))
	for _, v := range in {
		lowered = append(lowered, strings.ToLower(v))
	}
	out := uniqueIDs(lowered)
	if len(out) == 0 {
		return nil
	}
	return out
}

func (s *Service) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.config.Put(ctx, key, raw)
}

func (s *Service) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.config.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
