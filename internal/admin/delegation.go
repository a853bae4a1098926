package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agora.city/internal/events"
	"agora.city/internal/ids"
	"agora.city/internal/obs"
)

// DelegationRequest asks for RoleID to be lent to DelegateID until ExpiresAt.
type DelegationRequest struct {
	DelegatorID string
	DelegateID  string
	RoleID      string
	Reason      string
	ExpiresAt   time.Time
}

func (s *Service) RequestDelegation(ctx context.Context, req DelegationRequest) (Delegation, error) {
	req.DelegatorID = strings.TrimSpace(req.DelegatorID)
	req.DelegateID = strings.TrimSpace(req.DelegateID)
	if req.DelegatorID == "" || req.DelegateID == "" {
		return Delegation{}, fmt.Errorf("%w: delegator_id and delegate_id are required", ErrInvalidInput)
	}
	if req.DelegatorID == req.DelegateID {
		return Delegation{}, fmt.Errorf("%w: a role cannot be delegated to oneself", ErrInvalidInput)
	}
	now := s.now()
	if !req.ExpiresAt.After(now) {
		return Delegation{}, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}
	role, err := s.GetRole(ctx, req.RoleID)
	if err != nil {
		return Delegation{}, err
	}
	if role.System {
		return Delegation{}, fmt.Errorf("%w: %s cannot be delegated", ErrSystemRole, role.Name)
	}
	if !role.Active {
		return Delegation{}, fmt.Errorf("%w: role %s is inactive", ErrInvalidInput, role.Name)
	}
	d, err := s.store.CreateDelegation(ctx, Delegation{
		ID:          ids.NewAt(now),
		DelegatorID: req.DelegatorID,
		DelegateID:  req.DelegateID,
		RoleID:      role.ID,
		Reason:      strings.TrimSpace(req.Reason),
		Status:      DelegationPending,
		ExpiresAt:   req.ExpiresAt.UTC(),
		CreatedAt:   now,
	})
	if err != nil {
		return Delegation{}, err
	}
	s.emit(ctx, events.KindDelegationRequested, d.ID, map[string]any{"delegate_id": d.DelegateID, "role_id": d.RoleID})
	return d, nil
}

// ApproveDelegation approves a pending delegation and grants the role to the
// delegate until the delegation expires.
func (s *Service) ApproveDelegation(ctx context.Context, id, approverID string) (Delegation, error) {
	d, err := s.pendingDecision(ctx, id, approverID)
	if err != nil {
		return Delegation{}, err
	}
	if !d.ExpiresAt.After(s.now()) {
		return Delegation{}, fmt.Errorf("%w: delegation %s has already lapsed", ErrInvalidState, d.ID)
	}
	role, err := s.store.GetRole(ctx, d.RoleID)
	if err != nil {
		return Delegation{}, err
	}
	approved, err := s.store.TransitionDelegation(ctx, d.ID, DelegationPending, DelegationApproved, approverID, s.now())
	if err != nil {
		return Delegation{}, err
	}
	expires := d.ExpiresAt
	if _, err := s.assign(ctx, d.DelegateID, role, approverID, &expires); err != nil {
		if _, rbErr := s.store.TransitionDelegation(ctx, d.ID, DelegationApproved, DelegationPending, "", s.now()); rbErr != nil {
			obs.Logger().WithError(rbErr).WithField("delegation_id", d.ID).Error("delegation rollback failed")
		}
		return Delegation{}, err
	}
	s.emit(ctx, events.KindDelegationDecided, approved.ID, map[string]any{"status": string(approved.Status)})
	return approved, nil
}

func (s *Service) RejectDelegation(ctx context.Context, id, approverID string) (Delegation, error) {
	d, err := s.pendingDecision(ctx, id, approverID)
	if err != nil {
		return Delegation{}, err
	}
	rejected, err := s.store.TransitionDelegation(ctx, d.ID, DelegationPending, DelegationRejected, approverID, s.now())
	if err != nil {
		return Delegation{}, err
	}
	s.emit(ctx, events.KindDelegationDecided, rejected.ID, map[string]any{"status": string(rejected.Status)})
	return rejected, nil
}

func (s *Service) pendingDecision(ctx context.Context, id, approverID string) (Delegation, error) {
	id, approverID = strings.TrimSpace(id), strings.TrimSpace(approverID)
	if id == "" || approverID == "" {
		return Delegation{}, fmt.Errorf("%w: delegation id and approver are required", ErrInvalidInput)
	}
	d, err := s.store.GetDelegation(ctx, id)
	if err != nil {
		return Delegation{}, err
	}
	if d.Status != DelegationPending {
		return Delegation{}, fmt.Errorf("%w: delegation is %s", ErrInvalidState, d.Status)
	}
	if approverID == d.DelegateID {
		return Delegation{}, fmt.Errorf("%w: the delegate cannot decide their own delegation", ErrInvalidInput)
	}
	return d, nil
}

// RevokeDelegation ends an approved delegation early and removes the granted role.
func (s *Service) RevokeDelegation(ctx context.Context, id, actorID string) (Delegation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Delegation{}, fmt.Errorf("%w: delegation id is required", ErrInvalidInput)
	}
	revoked, err := s.store.TransitionDelegation(ctx, id, DelegationApproved, DelegationRevoked, strings.TrimSpace(actorID), s.now())
	if err != nil {
		return Delegation{}, err
	}
	if err := s.store.RemoveExpiringAssignment(ctx, revoked.DelegateID, revoked.RoleID, revoked.ExpiresAt); err != nil {
		return Delegation{}, err
	}
	s.emit(ctx, events.KindDelegationRevoked, revoked.ID, map[string]any{"delegate_id": revoked.DelegateID})
	return revoked, nil
}

func (s *Service) ListDelegations(ctx context.Context, status DelegationStatus) ([]Delegation, error) {
	status = DelegationStatus(strings.TrimSpace(strings.ToLower(string(status))))
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown delegation status %s", ErrInvalidInput, status)
	}
	return s.store.ListDelegations(ctx, status)
}

// ExpireDelegations marks approved delegations whose end has passed as expired
// and removes the assignments they created.
func (s *Service) ExpireDelegations(ctx context.Context, now time.Time) (BatchResult, error) {
	approved, err := s.store.ListDelegations(ctx, DelegationApproved)
	if err != nil {
		return BatchResult{}, err
	}
	due := make([]string, 0, len(approved))
	byID := make(map[string]Delegation, len(approved))
	for _, d := range approved {
		if !d.ExpiresAt.After(now) {
			due = append(due, d.ID)
			byID[d.ID] = d
		}
	}
	return s.runBatch(ctx, "expire_delegations", due, nil, func(ctx context.Context, id string) error {
		d := byID[id]
		if _, err := s.store.TransitionDelegation(ctx, id, DelegationApproved, DelegationExpired, "", now); err != nil {
			return err
		}
		if err := s.store.RemoveExpiringAssignment(ctx, d.DelegateID, d.RoleID, d.ExpiresAt); err != nil {
			return err
		}
		s.emit(ctx, events.KindDelegationExpired, id, map[string]any{"delegate_id": d.DelegateID})
		return nil
	}), nil
}
