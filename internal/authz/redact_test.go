package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	backend := &fakeAuthorizer{fieldFn: func(_ context.Context, _ Principal, req FieldAccessRequest) (FieldAccessResult, error) {
		switch req.Field {
		case "budget":
			return FieldAccessResult{Allowed: false, Reason: "sensitive field", Sensitive: true}, nil
		case "owner_notes":
			return FieldAccessResult{Allowed: false, Reason: "no rule"}, nil
		case "broken":
			return FieldAccessResult{}, errors.New("timeout")
		}
		return FieldAccessResult{Allowed: true}, nil
	}}
	client := newTestClient(backend)

	record := map[string]any{
		"title":       "Clean the river",
		"budget":      12000,
		"owner_notes": "internal",
		"broken":      true,
	}
	out := Redact(context.Background(), client, clerk, "Challenge", record)

	require.Equal(t, map[string]any{"title": "Clean the river"}, out.Visible)
	require.Len(t, out.Masked, 3)
	require.EqualValues(t, 4, backend.fieldCalls.Load())

	byField := map[string]MaskedField{}
	for _, m := range out.Masked {
		byField[m.Field] = m
	}
	require.True(t, byField["budget"].Sensitive)
	require.False(t, byField["budget"].FailedClosed)
	require.False(t, byField["owner_notes"].Sensitive)
	require.True(t, byField["broken"].FailedClosed)
	require.Equal(t, ReasonValidationFailed, byField["broken"].Reason)
}

func TestRedactEmptyRecord(t *testing.T) {
	backend := &fakeAuthorizer{}
	out := Redact(context.Background(), newTestClient(backend), clerk, "Challenge", nil)
	require.Empty(t, out.Visible)
	require.Empty(t, out.Masked)
	require.Zero(t, backend.fieldCalls.Load())
}
