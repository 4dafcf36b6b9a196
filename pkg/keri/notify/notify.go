// Copyright 2025 Certen Protocol
//
// Package notify is the event bus escrows subscribe to, grounded on the
// teacher's AddStateChangeListener/notifyListeners pattern
// (pkg/proof/lifecycle.go). The teacher dispatches to each listener on its
// own goroutine (fire-and-forget custody hooks); here dispatch is
// synchronous and in registration order instead, because an escrow's
// promotion check must observe a notification before the processor call
// that raised it returns — an escrow reacting a goroutine-scheduling-quantum
// late would let the processor report success before, say, a
// PartiallyWitnessed buffer has recorded the receipt that just arrived.
package notify

import (
	"sync"

	"github.com/google/uuid"
)

// Tag enumerates the notification kinds escrows and diagnostics subscribe
// to.
type Tag string

const (
	KeyEventAdded          Tag = "KeyEventAdded"
	OutOfOrder             Tag = "OutOfOrder"
	PartiallySigned        Tag = "PartiallySigned"
	PartiallyWitnessed     Tag = "PartiallyWitnessed"
	MissingDelegatingEvent Tag = "MissingDelegatingEvent"
	DuplicitousEvent       Tag = "DuplicitousEvent"
	ReceiptAccepted        Tag = "ReceiptAccepted"
	ReceiptOutOfOrder      Tag = "ReceiptOutOfOrder"
	TransReceiptOutOfOrder Tag = "TransReceiptOutOfOrder"
)

// Event is the payload passed to subscribers. Prefix/SN/SAID identify the
// key event or receipt the notification concerns; Err carries the
// kerierr.ValidationError that raised it, nil for KeyEventAdded/
// ReceiptAccepted. CorrelationID is set by the publisher and passed to
// subscribers unchanged; Publish does not assign one. The processor gives
// every notification it publishes a fresh ID, including the KeyEventAdded
// raised when an escrow promotes an entry, so the notifications of one
// promotion chain do not share an ID.
type Event struct {
	Tag           Tag
	Prefix        string
	SN            uint64
	SAID          string
	Err           error
	CorrelationID string
}

// NewCorrelationID returns a fresh random correlation ID (a UUID string).
func NewCorrelationID() string {
	return uuid.NewString()
}

// Handler is called synchronously for every Event published under a Tag it
// subscribed to. Handlers must not block; a handler that needs to do
// storage I/O should do so directly (escrows are expected to be cheap KV
// writes, not network calls).
type Handler func(Event)

// Bus is a synchronous, in-order publish/subscribe registry. The zero value
// is not usable; construct with New.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Tag][]Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[Tag][]Handler)}
}

// Subscribe registers h to be called for every future Publish under tag, in
// the order Subscribe was called. Reentrant: h may itself call Publish or
// Subscribe on the same Bus.
func (b *Bus) Subscribe(tag Tag, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[tag] = append(b.handlers[tag], h)
}

// Publish invokes every handler subscribed to e.Tag, in registration order.
// Handlers are copied out under the read lock before invocation so a
// handler that calls Subscribe does not deadlock or see itself invoked for
// this Publish.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	hs := make([]Handler, len(b.handlers[e.Tag]))
	copy(hs, b.handlers[e.Tag])
	b.mu.RUnlock()

	for _, h := range hs {
		h(e)
	}
}
