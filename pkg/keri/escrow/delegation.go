// Copyright 2025 Certen Protocol

package escrow

import (
	"errors"
	"sync"
	"time"

	"github.com/certen/keri-core/pkg/keri/event"
	"github.com/certen/keri-core/pkg/keri/kerierr"
	"github.com/certen/keri-core/pkg/keri/notify"
	"github.com/certen/keri-core/pkg/keri/validator"
)

type delegationEntry struct {
	se        *event.SignedEvent
	raw       []byte
	timestamp time.Time
}

// DelegationEscrow holds dip/drt events whose delegator event is unknown or
// lacks the anchoring seal (spec §4.6 row 4).
type DelegationEscrow struct {
	mu      sync.Mutex
	entries map[Key]delegationEntry
	window  Window

	states StateLookup
	deps   validator.Deps
	commit Committer
}

// NewDelegationEscrow constructs an escrow and subscribes it to
// KeyEventAdded (any identifier's new event may anchor one of our escrowed
// children). Entries arrive only through Insert; the escrow does not
// subscribe to MissingDelegatingEvent.
func NewDelegationEscrow(bus *notify.Bus, states StateLookup, deps validator.Deps, commit Committer, window Window) *DelegationEscrow {
	e := &DelegationEscrow{
		entries: make(map[Key]delegationEntry),
		window:  window,
		states:  states,
		deps:    deps,
		commit:  commit,
	}
	bus.Subscribe(notify.KeyEventAdded, func(ev notify.Event) { e.attemptAll() })
	return e
}

// Insert escrows a delegated event whose delegator anchor could not be
// confirmed.
func (e *DelegationEscrow) Insert(prefix string, sn uint64, se *event.SignedEvent, raw []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries[Key{Prefix: prefix, SN: sn, SAID: se.Event.SAID}] = delegationEntry{se: se, raw: raw, timestamp: time.Now()}
}

// attemptAll re-validates every non-stale escrowed child. Any new event
// (delegator or otherwise) may be the one that newly anchors a pending
// child's seal, so every entry is retried rather than narrowing to a
// specific delegator prefix (spec §4.6 row 4: "when a new event of any
// identifier contains event-seals anchoring one of our escrowed children").
func (e *DelegationEscrow) attemptAll() {
	e.mu.Lock()
	now := time.Now()
	keys := make([]Key, 0, len(e.entries))
	for k, entry := range e.entries {
		if stale(entry.timestamp, now, e.window) {
			delete(e.entries, k)
			continue
		}
		keys = append(keys, k)
	}
	e.mu.Unlock()

	for _, k := range keys {
		e.attemptOne(k)
	}
}

func (e *DelegationEscrow) attemptOne(k Key) {
	e.mu.Lock()
	entry, ok := e.entries[k]
	e.mu.Unlock()
	if !ok {
		return
	}

	prior, err := e.states.State(k.Prefix)
	if err != nil {
		return
	}
	ns, verr := validator.Validate(prior, entry.se, entry.raw, e.deps)
	if verr == nil {
		// Remove before committing: Commit publishes KeyEventAdded, which
		// reenters attemptAll, and k must already be gone or the reentrant
		// scan would promote it a second time.
		e.mu.Lock()
		delete(e.entries, k)
		e.mu.Unlock()
		_ = e.commit.Commit(ns, entry.se, entry.raw)
		return
	}
	var ve *kerierr.ValidationError
	if errors.As(verr, &ve) && ve.Kind == kerierr.KindMissingDelegating {
		return // still unanchored; stays escrowed
	}
	// Any other outcome is no longer this escrow's concern.
	e.mu.Lock()
	delete(e.entries, k)
	e.mu.Unlock()
}

// Len reports the number of escrowed entries.
func (e *DelegationEscrow) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}
