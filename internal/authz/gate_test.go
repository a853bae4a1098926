package authz

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name  string
		caps  Capabilities
		req   Requirement
		allow bool
		check Check
	}{
		{
			name:  "empty requirement allows",
			caps:  CapabilitiesOf(false, nil, nil),
			req:   Requirement{},
			allow: true,
		},
		{
			name:  "require admin denies non-admin regardless of other grants",
			caps:  CapabilitiesOf(false, []string{"editor"}, []string{"challenge_edit"}),
			req:   Requirement{RequireAdmin: true, Role: "editor", Permission: "challenge_edit"},
			check: CheckAdmin,
		},
		{
			name:  "admin short-circuits undefined permission",
			caps:  CapabilitiesOf(true, nil, nil),
			req:   Requirement{RequireAdmin: true, Permission: "anything_undefined"},
			allow: true,
		},
		{
			name:  "all permissions required by default",
			caps:  CapabilitiesOf(false, nil, []string{"a"}),
			req:   Requirement{Permissions: []string{"a", "b"}},
			check: CheckPermission,
		},
		{
			name:  "all permissions held",
			caps:  CapabilitiesOf(false, nil, []string{"a", "b"}),
			req:   Requirement{Permissions: []string{"a", "b"}},
			allow: true,
		},
		{
			name:  "any permission",
			caps:  CapabilitiesOf(false, nil, []string{"b"}),
			req:   Requirement{Permissions: []string{"a", "b"}, AnyPermission: true},
			allow: true,
		},
		{
			name:  "any permission none held",
			caps:  CapabilitiesOf(false, nil, []string{"c"}),
			req:   Requirement{Permissions: []string{"a", "b"}, AnyPermission: true},
			check: CheckPermission,
		},
		{
			name:  "single and listed permissions combine",
			caps:  CapabilitiesOf(false, nil, []string{"a", "b"}),
			req:   Requirement{Permission: "c", Permissions: []string{"a", "b"}},
			check: CheckPermission,
		},
		{
			name:  "role intersection",
			caps:  CapabilitiesOf(false, []string{"r2"}, nil),
			req:   Requirement{Roles: []string{"r1", "r2"}},
			allow: true,
		},
		{
			name:  "unrelated role denied",
			caps:  CapabilitiesOf(false, []string{"r3"}, nil),
			req:   Requirement{Roles: []string{"r1", "r2"}},
			check: CheckRole,
		},
		{
			name:  "role names compare case-insensitively",
			caps:  CapabilitiesOf(false, []string{"Reviewer"}, nil),
			req:   Requirement{Role: "reviewer"},
			allow: true,
		},
		{
			name:  "role checked before permission",
			caps:  CapabilitiesOf(false, []string{"r3"}, nil),
			req:   Requirement{Role: "r1", Permission: "missing"},
			check: CheckRole,
		},
		{
			name:  "missing permission on plain session",
			caps:  CapabilitiesOf(false, nil, []string{"challenge_create"}),
			req:   Requirement{Permission: "challenge_edit"},
			check: CheckPermission,
		},
		{
			name:  "nil predicate holds nothing",
			caps:  Capabilities{},
			req:   Requirement{Permission: "x"},
			check: CheckPermission,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.caps, tc.req)
			require.Equal(t, tc.allow, got.Allowed, "decision: %+v", got)
			require.Equal(t, tc.check, got.Check)
			require.NotEmpty(t, got.Reason)
		})
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	pool := []string{"a", "b", "c", "d", "e"}
	pick := func() []string {
		var out []string
		for _, v := range pool {
			if rnd.Intn(2) == 0 {
				out = append(out, v)
			}
		}
		return out
	}
	for i := 0; i < 500; i++ {
		caps := CapabilitiesOf(rnd.Intn(4) == 0, pick(), pick())
		req := Requirement{
			RequireAdmin:  rnd.Intn(5) == 0,
			Roles:         pick(),
			Permissions:   pick(),
			AnyPermission: rnd.Intn(2) == 0,
		}
		first := Evaluate(caps, req)
		second := Evaluate(caps, req)
		require.Equal(t, first, second)

		if req.RequireAdmin && !caps.Admin {
			require.False(t, first.Allowed)
			require.Equal(t, CheckAdmin, first.Check)
		}
	}
}
