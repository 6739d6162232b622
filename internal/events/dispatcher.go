package events

import (
	"log/slog"
	"sync"
)

// Handler receives a notification matched to its subscription.
type Handler func(Notification)

type subKey struct {
	kind          Type
	correlationID string
}

// Dispatcher routes an inbound notification to the single subscriber waiting
// on its (kind, correlation id) pair, then discards that subscription.
//
// Dispatchers are explicitly constructed and injected; callers that need
// isolation (tests, independent call flows) each get their own instance.
type Dispatcher struct {
	mu     sync.Mutex
	subs   map[subKey]Handler
	logger *slog.Logger
}

// NewDispatcher creates an empty registry.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		subs:   make(map[subKey]Handler),
		logger: logger,
	}
}

// Subscribe registers handler for the (kind, correlationID) pair. A second
// subscribe on the same key replaces the first; the prior handler is
// abandoned, never queued. Duplicate delivery would double-settle the waiting
// completion cell, so last writer wins.
func (d *Dispatcher) Subscribe(kind Type, correlationID string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[subKey{kind, correlationID}] = handler
}

// Unsubscribe removes the binding for (kind, correlationID). Removing an
// absent binding is a no-op; teardown paths may race with self-unsubscribe.
func (d *Dispatcher) Unsubscribe(kind Type, correlationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, subKey{kind, correlationID})
}

// Dispatch looks up the subscriber for n, removes the binding, and invokes
// the handler on its own goroutine so subscriber work never blocks the
// notification-delivery path. A notification with no subscriber is dropped:
// late or duplicate notifications for completed operations are expected.
// Returns whether a subscriber was found.
func (d *Dispatcher) Dispatch(n Notification) bool {
	key := subKey{n.Type, n.CorrelationID()}

	d.mu.Lock()
	handler, ok := d.subs[key]
	if ok {
		delete(d.subs, key)
	}
	d.mu.Unlock()

	if !ok {
		d.logger.Info("[Dispatcher] Dropping notification with no subscriber",
			"kind", n.Type.String(),
			"correlation_id", n.CorrelationID(),
		)
		return false
	}

	go handler(n)
	return true
}

// Len returns the number of active subscriptions.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}
