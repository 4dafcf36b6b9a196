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

type outOfOrderEntry struct {
	se        *event.SignedEvent
	raw       []byte
	timestamp time.Time
}

// OutOfOrderEscrow holds signed events whose sn is greater than
// prior.sn+1. It promotes entries once the missing predecessors have
// arrived (spec §4.6 row 1).
type OutOfOrderEscrow struct {
	mu      sync.Mutex
	entries map[Key]outOfOrderEntry
	window  Window

	states StateLookup
	deps   validator.Deps
	commit Committer
	router Router
}

// NewOutOfOrderEscrow constructs an escrow and subscribes it to bus so it
// re-attempts promotion whenever a new event is accepted for the same
// identifier.
func NewOutOfOrderEscrow(bus *notify.Bus, states StateLookup, deps validator.Deps, commit Committer, window Window) *OutOfOrderEscrow {
	e := &OutOfOrderEscrow{
		entries: make(map[Key]outOfOrderEntry),
		window:  window,
		states:  states,
		deps:    deps,
		commit:  commit,
	}
	bus.Subscribe(notify.KeyEventAdded, func(ev notify.Event) { e.onKeyEventAdded(ev) })
	return e
}

// SetRouter wires the cross-escrow forwarder, used when re-validation
// reveals a different escrow-worthy kind than EventOutOfOrder (e.g. the
// missing predecessors arrived but the signature threshold is now the
// blocker).
func (e *OutOfOrderEscrow) SetRouter(r Router) { e.router = r }

// Insert escrows a signed event that failed validation with
// KindEventOutOfOrder.
func (e *OutOfOrderEscrow) Insert(prefix string, sn uint64, se *event.SignedEvent, raw []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries[Key{Prefix: prefix, SN: sn, SAID: se.Event.SAID}] = outOfOrderEntry{se: se, raw: raw, timestamp: time.Now()}
}

// onKeyEventAdded re-attempts every escrowed entry for trigger.Prefix with
// sn >= trigger.SN (spec §4.6: "on KeyEventAdded for this prefix, scan only
// entries with sn >= triggering.sn"). Promoting sn=n may unblock sn=n+1, so
// the scan repeats until a pass promotes nothing.
func (e *OutOfOrderEscrow) onKeyEventAdded(trigger notify.Event) {
	for e.attemptOnce(trigger.Prefix, trigger.SN, time.Now()) {
	}
}

// attemptOnce scans entries for prefix with sn >= minSN and promotes at most
// one of them (the lowest sn that validates), returning whether a promotion
// happened.
func (e *OutOfOrderEscrow) attemptOnce(prefix string, minSN uint64, now time.Time) bool {
	e.mu.Lock()
	var bestKey Key
	found := false
	for k, entry := range e.entries {
		if k.Prefix != prefix || k.SN < minSN {
			continue
		}
		if stale(entry.timestamp, now, e.window) {
			delete(e.entries, k)
			continue
		}
		if !found || k.SN < bestKey.SN {
			bestKey, found = k, true
		}
	}
	if !found {
		e.mu.Unlock()
		return false
	}
	entry := e.entries[bestKey]
	e.mu.Unlock()

	prior, err := e.states.State(prefix)
	if err != nil {
		return false
	}
	ns, err := validator.Validate(prior, entry.se, entry.raw, e.deps)
	if err == nil {
		// Remove before committing: Commit publishes KeyEventAdded, which
		// reenters this same handler, and bestKey must already be gone or
		// the reentrant scan would promote it a second time.
		e.mu.Lock()
		delete(e.entries, bestKey)
		e.mu.Unlock()
		if cerr := e.commit.Commit(ns, entry.se, entry.raw); cerr != nil {
			return false
		}
		return true
	}
	var ve *kerierr.ValidationError
	if errors.As(err, &ve) && ve.Kind == kerierr.KindEventOutOfOrder {
		// still out of order; leave escrowed for a later trigger
		return false
	}

	e.mu.Lock()
	delete(e.entries, bestKey)
	e.mu.Unlock()

	if e.router != nil && errors.As(err, &ve) && kerierr.Escrowable(ve.Kind) {
		if ve.Kind == kerierr.KindNotEnoughReceipts {
			e.router.RouteWitnessed(ns, entry.se, entry.raw)
		} else {
			e.router.Route(ve.Kind, prefix, entry.se.Event.SN, entry.se, entry.raw)
		}
	}
	return false
}

// Len reports the number of escrowed entries, for metrics and tests.
func (e *OutOfOrderEscrow) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}
