// Package eventbus provides typed, in-process event dispatch with durable
// append via a Store handle (§4.2).
package eventbus

import (
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jpsweeney97/phaser/internal/store"
	"github.com/jpsweeney97/phaser/internal/types"
)

// Handler observes emitted events. A handler that panics is isolated by Bus;
// it does not stop other handlers or emission itself (§4.2 Subscriber isolation).
type Handler func(types.Event)

// SubscriptionID identifies a registered Handler so it can be removed later.
type SubscriptionID int

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus dispatches events to in-process subscribers and, if attached to a
// Store, persists them durably. A zero-value Bus with no Store is usable for
// in-memory-only dispatch (tests, dry runs).
type Bus struct {
	store       *store.Store
	subscribers []subscription
	nextID      SubscriptionID
	logger      *log.Logger
}

// New returns a Bus backed by s. s may be nil to disable persistence.
func New(s *store.Store) *Bus {
	return &Bus{store: s, logger: log.New(os.Stderr, "", log.LstdFlags)}
}

// SetLogger overrides the logger used for subscriber-panic and persistence
// failure diagnostics; pass a logger writing to io.Discard to silence it.
func (b *Bus) SetLogger(l *log.Logger) {
	b.logger = l
}

// Subscribe registers handler to run on every future Emit, in registration
// order, and returns an ID that can be passed to Unsubscribe.
func (b *Bus) Subscribe(handler Handler) SubscriptionID {
	b.nextID++
	id := b.nextID
	b.subscribers = append(b.subscribers, subscription{id: id, handler: handler})
	return id
}

// Unsubscribe removes the handler registered under id, if any.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	for i, sub := range b.subscribers {
		if sub.id == id {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Emit assigns a UUID and an ISO-8601-millisecond timestamp, invokes every
// subscriber synchronously in registration order, and then persists the
// event via Store if attached (§4.2).
func (b *Bus) Emit(eventType types.EventType, auditID string, phase *int, data map[string]interface{}) types.Event {
	event := types.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		AuditID:   auditID,
		Phase:     phase,
		Data:      data,
	}

	for _, sub := range b.subscribers {
		b.invoke(sub.handler, event)
	}

	if b.store != nil {
		if _, err := b.store.AppendEvent(event); err != nil {
			b.logger.Printf("eventbus: persist event %s failed: %v", event.ID, err)
		}
	}

	return event
}

func (b *Bus) invoke(handler Handler, event types.Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Printf("eventbus: subscriber panic on event %s: %v", event.ID, r)
		}
	}()
	handler(event)
}

// Replay reads events for auditID in timestamp order from the attached
// Store and invokes handler once per event, returning the count (§4.2).
func (b *Bus) Replay(auditID string, handler Handler) (int, error) {
	if b.store == nil {
		return 0, fmt.Errorf("eventbus: replay requires an attached store")
	}
	events, err := b.store.GetEvents(store.EventFilter{AuditID: auditID})
	if err != nil {
		return 0, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	for _, e := range events {
		handler(e)
	}
	return len(events), nil
}
