package authz

import (
	"context"
	"errors"
	"sync"
)

// ErrGuardClosed is returned by Wait once the guard has been closed before resolving.
var ErrGuardClosed = errors.New("authz: guard closed")

// State of a guarded view.
type State int

const (
	StateLoading State = iota
	StateAllowed
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateAllowed:
		return "allowed"
	case StateDenied:
		return "denied"
	default:
		return "loading"
	}
}

// Guard tracks the authorization state of one long-lived view. Watch starts a
// check whenever the request's identifying fields change; results of superseded
// checks, or of checks that finish after Close, are discarded.
type Guard struct {
	checker   PermissionChecker
	principal Principal
	listener  func(State, PermissionResult)

	mu       sync.Mutex
	gen      uint64
	key      string
	watching bool
	closed   bool
	state    State
	result   PermissionResult
	done     chan struct{}
	cancel   context.CancelFunc
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithStateListener is invoked after every transition to a terminal state.
func WithStateListener(fn func(State, PermissionResult)) GuardOption {
	return func(g *Guard) { g.listener = fn }
}

// NewGuard returns a guard in the loading state.
func NewGuard(checker PermissionChecker, principal Principal, opts ...GuardOption) *Guard {
	g := &Guard{
		checker:   checker,
		principal: principal,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Watch evaluates req unless it is identical to the request already watched.
func (g *Guard) Watch(ctx context.Context, req PermissionRequest) {
	req = req.normalize()
	key := req.Key()

	g.mu.Lock()
	if g.closed || (g.watching && g.key == key) {
		g.mu.Unlock()
		return
	}
	if g.cancel != nil {
		g.cancel()
	}
	if g.state != StateLoading {
		g.done = make(chan struct{})
	}
	g.gen++
	gen := g.gen
	g.key = key
	g.watching = true
	g.state = StateLoading
	g.result = PermissionResult{}
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.mu.Unlock()

	go func() {
		defer cancel()
		res := g.checker.CheckPermission(ctx, g.principal, req)
		g.resolve(gen, res)
	}()
}

func (g *Guard) resolve(gen uint64, res PermissionResult) {
	g.mu.Lock()
	if g.closed || gen != g.gen {
		g.mu.Unlock()
		return
	}
	if res.Allowed {
		g.state = StateAllowed
	} else {
		g.state = StateDenied
	}
	g.result = res
	close(g.done)
	state, listener := g.state, g.listener
	g.mu.Unlock()

	if listener != nil {
		listener(state, res)
	}
}

// State returns the current state and, when terminal, the result that produced it.
func (g *Guard) State() (State, PermissionResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, g.result
}

// Wait blocks until the latest watched request resolves, ctx ends or the guard closes.
func (g *Guard) Wait(ctx context.Context) (State, PermissionResult, error) {
	for {
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return StateLoading, PermissionResult{}, ErrGuardClosed
		}
		if g.watching && g.state != StateLoading {
			state, res := g.state, g.result
			g.mu.Unlock()
			return state, res, nil
		}
		done := g.done
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return StateLoading, PermissionResult{}, ctx.Err()
		case <-done:
		}
	}
}

// Close detaches the guard from its view. In-flight checks are cancelled and
// their results ignored.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	if g.cancel != nil {
		g.cancel()
	}
	if g.state == StateLoading {
		close(g.done)
	}
}
