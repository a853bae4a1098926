// Package events fans administrative change notifications out to live subscribers.
package events

import (
	"context"
	"sync"
	"time"

	"agora.city/internal/ids"
)

// Event kinds published by the admin service.
const (
	KindRoleCreated         = "role.created"
	KindRoleUpdated         = "role.updated"
	KindRoleDeleted         = "role.deleted"
	KindPermissionCreated   = "permission.created"
	KindPermissionUpdated   = "permission.updated"
	KindPermissionDeleted   = "permission.deleted"
	KindRolePermissions     = "role.permissions_changed"
	KindAssignmentCreated   = "assignment.created"
	KindAssignmentRemoved   = "assignment.removed"
	KindTemplateSaved       = "template.saved"
	KindTemplateDeleted     = "template.deleted"
	KindTemplateApplied     = "template.applied"
	KindFieldRulesUpdated   = "field_rules.updated"
	KindDelegationRequested = "delegation.requested"
	KindDelegationDecided   = "delegation.decided"
	KindDelegationRevoked   = "delegation.revoked"
	KindDelegationExpired   = "delegation.expired"
)

// Event describes one change to roles, permissions or their assignments.
type Event struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	ActorID   string         `json:"actor_id,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(Event)
}

// Broker fans events out to all active subscribers (SSE clients).
type Broker struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
	now  func() time.Time
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[int]chan Event),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (b *Broker) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Subscribers reports the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish stamps evt and fans it out. Slow subscribers miss events rather than
// block the publisher.
func (b *Broker) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now()
	}
	if evt.ID == "" {
		evt.ID = ids.NewAt(evt.Timestamp)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}
