package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"agora.city/internal/obs"
)

const defaultTimeout = 5 * time.Second

// Client is the fail-closed front of an Authorizer. Every call reaches the
// Authorization Service once; nothing is cached or retried.
type Client struct {
	backend Authorizer
	timeout time.Duration
	dedupe  bool
	group   singleflight.Group
	logger  logrus.FieldLogger
}

// Option configures Client.
type Option func(*Client)

// WithTimeout bounds each remote call. Expiry is a denial.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDeduplication lets concurrent identical checks for one principal share a
// single remote call.
func WithDeduplication(enabled bool) Option {
	return func(c *Client) { c.dedupe = enabled }
}

// WithLogger overrides the logger used for fail-closed diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient wraps backend.
func NewClient(backend Authorizer, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, errors.New("authz: authorizer is required")
	}
	c := &Client{backend: backend, timeout: defaultTimeout, logger: obs.Logger()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CheckPermission asks the Authorization Service for a decision. It never returns
// an error: failures yield {Allowed:false, Reason:"Validation failed", Outcome:failed}.
func (c *Client) CheckPermission(ctx context.Context, principal Principal, req PermissionRequest) PermissionResult {
	start := time.Now()
	req = req.normalize()
	res, err := c.checkPermission(ctx, principal, req)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"kind":          "permission",
			"user_id":       principal.ID,
			"permission":    req.Permission,
			"resource_type": req.ResourceType,
			"error":         err.Error(),
		}).Warn("authorization check failed closed")
		res = deniedPermission()
	}
	obs.ObserveCheck("permission", string(res.Outcome), time.Since(start))
	return res
}

func (c *Client) checkPermission(ctx context.Context, principal Principal, req PermissionRequest) (PermissionResult, error) {
	if req.Permission == "" {
		return PermissionResult{}, fmt.Errorf("%w: permission code is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(principal.ID) == "" {
		return PermissionResult{}, fmt.Errorf("%w: principal id is required", ErrInvalidRequest)
	}
	call := func(ctx context.Context) (PermissionResult, error) {
		res, err := invoke(ctx, c.timeout, func(ctx context.Context) (PermissionResult, error) {
			return c.backend.CheckPermission(ctx, principal, req)
		})
		if err != nil {
			return PermissionResult{}, err
		}
		res.Outcome = outcomeOf(res.Allowed)
		return res, nil
	}
	if !c.dedupe {
		return call(ctx)
	}
	key := "permission\x1f" + principal.ID + "\x1f" + req.Key()
	return shared(ctx, &c.group, key, call)
}

// CheckFieldAccess asks whether a field may be read or written. Same fail-closed
// contract as CheckPermission.
func (c *Client) CheckFieldAccess(ctx context.Context, principal Principal, req FieldAccessRequest) FieldAccessResult {
	start := time.Now()
	req.EntityType = strings.TrimSpace(req.EntityType)
	req.Field = strings.TrimSpace(req.Field)
	req.Operation = Operation(strings.ToLower(strings.TrimSpace(string(req.Operation))))
	res, err := c.checkFieldAccess(ctx, principal, req)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"kind":        "field",
			"user_id":     principal.ID,
			"entity_type": req.EntityType,
			"field":       req.Field,
			"operation":   string(req.Operation),
			"error":       err.Error(),
		}).Warn("authorization check failed closed")
		res = deniedField()
	}
	obs.ObserveCheck("field", string(res.Outcome), time.Since(start))
	return res
}

func (c *Client) checkFieldAccess(ctx context.Context, principal Principal, req FieldAccessRequest) (FieldAccessResult, error) {
	if req.EntityType == "" || req.Field == "" {
		return FieldAccessResult{}, fmt.Errorf("%w: entity type and field are required", ErrInvalidRequest)
	}
	if !req.Operation.Valid() {
		return FieldAccessResult{}, fmt.Errorf("%w: unsupported operation %q", ErrInvalidRequest, req.Operation)
	}
	call := func(ctx context.Context) (FieldAccessResult, error) {
		res, err := invoke(ctx, c.timeout, func(ctx context.Context) (FieldAccessResult, error) {
			return c.backend.CheckFieldAccess(ctx, principal, req)
		})
		if err != nil {
			return FieldAccessResult{}, err
		}
		res.Outcome = outcomeOf(res.Allowed)
		return res, nil
	}
	if !c.dedupe {
		return call(ctx)
	}
	key := strings.Join([]string{"field", principal.ID, req.EntityType, req.Field, string(req.Operation)}, "\x1f")
	return shared(ctx, &c.group, key, call)
}

func outcomeOf(allowed bool) Outcome {
	if allowed {
		return OutcomeGranted
	}
	return OutcomeDenied
}

type callResult[T any] struct {
	val T
	err error
}

// invoke runs fn under a deadline. A backend that ignores its context still
// cannot hold the caller past the timeout, and a panic is reported as an error.
func invoke[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult[T]{err: fmt.Errorf("authz: authorizer panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- callResult[T]{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-done:
		return res.val, res.err
	}
}

// shared collapses identical in-flight calls. The shared call is detached from
// the first caller's cancellation; each caller still stops waiting on its own ctx.
func shared[T any](ctx context.Context, group *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	detached := context.WithoutCancel(ctx)
	ch := group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, errors.New("authz: unexpected shared result")
		}
		return v, nil
	}
}
