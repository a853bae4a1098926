package admin

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"agora.city/internal/obs"
)

// ItemError explains why one id of a bulk operation was not applied.
type ItemError struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BatchResult reports the per-item outcome of a bulk operation in input order.
// Ids in Skipped were never attempted; ids in Failed were attempted and not applied.
type BatchResult struct {
	Succeeded []string    `json:"succeeded"`
	Failed    []ItemError `json:"failed"`
	Skipped   []ItemError `json:"skipped"`
}

// Complete reports whether nothing failed.
func (r BatchResult) Complete() bool { return len(r.Failed) == 0 }

type itemOutcome struct {
	skipped string
	err     error
}

// runBatch screens every id with precheck before any mutation runs, then applies
// apply to the survivors with bounded concurrency. precheck returns a skip
// reason, or an error that fails the item.
func (s *Service) runBatch(ctx context.Context, op string, ids []string,
	precheck func(context.Context, string) (string, error),
	apply func(context.Context, string) error,
) BatchResult {
	ids = uniqueIDs(ids)
	outcomes := make([]itemOutcome, len(ids))
	if precheck != nil {
		for i, id := range ids {
			reason, err := precheck(ctx, id)
			outcomes[i] = itemOutcome{skipped: reason, err: err}
		}
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		if outcomes[i].skipped != "" || outcomes[i].err != nil {
			continue
		}
		i, id := i, id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].err = err
				return nil
			}
			outcomes[i].err = apply(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Succeeded: []string{}, Failed: []ItemError{}, Skipped: []ItemError{}}
	for i, id := range ids {
		switch o := outcomes[i]; {
		case o.skipped != "":
			res.Skipped = append(res.Skipped, ItemError{ID: id, Reason: o.skipped})
		case o.err != nil:
			res.Failed = append(res.Failed, ItemError{ID: id, Reason: o.err.Error()})
		default:
			res.Succeeded = append(res.Succeeded, id)
		}
	}
	obs.CountBatchItems(op, "succeeded", len(res.Succeeded))
	obs.CountBatchItems(op, "failed", len(res.Failed))
	obs.CountBatchItems(op, "skipped", len(res.Skipped))
	return res
}

func (s *Service) skipSystemRole(ctx context.Context, id string) (string, error) {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return "", err
	}
	if role.System {
		return "system role", nil
	}
	return "", nil
}

// BulkDeleteRoles deletes each role independently. System roles are skipped.
func (s *Service) BulkDeleteRoles(ctx context.Context, roleIDs []string) BatchResult {
	return s.runBatch(ctx, "delete_roles", roleIDs, s.skipSystemRole, func(ctx context.Context, id string) error {
		return s.DeleteRole(ctx, id)
	})
}

// BulkSetRolesActive activates or deactivates each role. System roles are skipped.
func (s *Service) BulkSetRolesActive(ctx context.Context, roleIDs []string, active bool) BatchResult {
	return s.runBatch(ctx, "set_roles_active", roleIDs, s.skipSystemRole, func(ctx context.Context, id string) error {
		_, err := s.UpdateRole(ctx, id, RoleUpdate{Active: &active})
		return err
	})
}

// BulkAssignRole assigns one role to many users. The role itself must be an
// active, non-system role; otherwise nothing is attempted.
func (s *Service) BulkAssignRole(ctx context.Context, userIDs []string, roleID, assignedBy string, expiresAt *time.Time) (BatchResult, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return BatchResult{}, err
	}
	if role.System {
		return BatchResult{}, fmt.Errorf("%w: %s cannot be bulk-assigned", ErrSystemRole, role.Name)
	}
	if !role.Active {
		return BatchResult{}, fmt.Errorf("%w: role %s is inactive", ErrInvalidInput, role.Name)
	}
	return s.runBatch(ctx, "assign_role", userIDs, nil, func(ctx context.Context, userID string) error {
		_, err := s.assign(ctx, userID, role, assignedBy, expiresAt)
		return err
	}), nil
}
