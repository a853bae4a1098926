package authz

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
)

const redactConcurrency = 8

// MaskedField reports a field withheld from a record. Sensitive fields are
// reported apart from ordinary denials.
type MaskedField struct {
	Field        string `json:"field"`
	Sensitive    bool   `json:"sensitive"`
	Reason       string `json:"reason"`
	FailedClosed bool   `json:"failed_closed,omitempty"`
}

// Redaction is a record reduced to the fields the principal may read.
type Redaction struct {
	Visible map[string]any `json:"visible"`
	Masked  []MaskedField  `json:"masked"`
}

// Redact checks read access for every field of record and drops the denied ones.
func Redact(ctx context.Context, checker FieldChecker, principal Principal, entityType string, record map[string]any) Redaction {
	fields := make([]string, 0, len(record))
	for f := range record {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	results := make([]FieldAccessResult, len(fields))
	var g errgroup.Group
	g.SetLimit(redactConcurrency)
	for i, field := range fields {
		i, field := i, field
		g.Go(func() error {
			results[i] = checker.CheckFieldAccess(ctx, principal, FieldAccessRequest{
				EntityType: entityType,
				Field:      field,
				Operation:  OperationRead,
			})
			return nil
		})
	}
	_ = g.Wait()

	out := Redaction{Visible: make(map[string]any, len(fields)), Masked: []MaskedField{}}
	for i, field := range fields {
		res := results[i]
		if res.Allowed {
			out.Visible[field] = record[field]
			continue
		}
		out.Masked = append(out.Masked, MaskedField{
			Field:        field,
			Sensitive:    res.Sensitive,
			Reason:       res.Reason,
			FailedClosed: res.FailedClosed(),
		})
	}
	return out
}

// Redact filters record through the client's fail-closed field checks.
func (c *Client) Redact(ctx context.Context, principal Principal, entityType string, record map[string]any) Redaction {
	return Redact(ctx, c, principal, entityType, record)
}
