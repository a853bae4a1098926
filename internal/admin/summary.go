package admin

import (
	"context"
	"time"
)

// Summary aggregates the access-control catalogue for the analytics view.
type Summary struct {
	Roles          int                      `json:"roles"`
	SystemRoles    int                      `json:"system_roles"`
	ActiveRoles    int                      `json:"active_roles"`
	Permissions    int                      `json:"permissions"`
	Assignments    int                      `json:"assignments"`
	MembersPerRole map[string]int           `json:"members_per_role"`
	Delegations    map[DelegationStatus]int `json:"delegations"`
	GeneratedAt    time.Time                `json:"generated_at"`
}

func (s *Service) Summary(ctx context.Context) (Summary, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return Summary{}, err
	}
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return Summary{}, err
	}
	assignments, err := s.store.ListAssignments(ctx, "")
	if err != nil {
		return Summary{}, err
	}
	delegations, err := s.store.ListDelegations(ctx, "")
	if err != nil {
		return Summary{}, err
	}

	now := s.now()
	out := Summary{
		Roles:          len(roles),
		Permissions:    len(perms),
		MembersPerRole: make(map[string]int, len(roles)),
		Delegations:    make(map[DelegationStatus]int),
		GeneratedAt:    now,
	}
	names := make(map[string]string, len(roles))
	for _, r := range roles {
		names[r.ID] = r.Name
		out.MembersPerRole[r.Name] = 0
		if r.System {
			out.SystemRoles++
		}
		if r.Active {
			out.ActiveRoles++
		}
	}
	for _, a := range assignments {
		if a.Expired(now) {
			continue
		}
		out.Assignments++
		if name, ok := names[a.RoleID]; ok {
			out.MembersPerRole[name]++
		}
	}
	for _, d := range delegations {
		out.Delegations[d.Status]++
	}
	return out, nil
}
