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

type partiallySignedEntry struct {
	se        *event.SignedEvent
	raw       []byte
	timestamp time.Time
}

// PartiallySignedEscrow holds signed events whose attached signatures don't
// yet meet the key threshold (spec §4.6 row 2).
type PartiallySignedEscrow struct {
	mu      sync.Mutex
	entries map[Key]partiallySignedEntry
	window  Window

	states StateLookup
	deps   validator.Deps
	commit Committer
	router Router
}

// NewPartiallySignedEscrow constructs an escrow and subscribes it to the
// PartiallySigned notification.
func NewPartiallySignedEscrow(bus *notify.Bus, states StateLookup, deps validator.Deps, commit Committer, window Window) *PartiallySignedEscrow {
	e := &PartiallySignedEscrow{
		entries: make(map[Key]partiallySignedEntry),
		window:  window,
		states:  states,
		deps:    deps,
		commit:  commit,
	}
	bus.Subscribe(notify.PartiallySigned, func(ev notify.Event) { e.attempt(ev.Prefix, ev.SN, ev.SAID) })
	return e
}

func (e *PartiallySignedEscrow) SetRouter(r Router) { e.router = r }

// Insert unions se's signatures into any already-escrowed entry for the same
// key (deduplicated by index, spec §4.6 row 2: "union the new signatures
// with those already escrowed"), then immediately attempts promotion.
func (e *PartiallySignedEscrow) Insert(prefix string, sn uint64, se *event.SignedEvent, raw []byte) {
	k := Key{Prefix: prefix, SN: sn, SAID: se.Event.SAID}
	e.mu.Lock()
	existing, ok := e.entries[k]
	if ok {
		se = unionSigs(existing.se, se)
	}
	e.entries[k] = partiallySignedEntry{se: se, raw: raw, timestamp: time.Now()}
	e.mu.Unlock()

	e.attempt(prefix, sn, se.Event.SAID)
}

func unionSigs(a, b *event.SignedEvent) *event.SignedEvent {
	seen := make(map[int]bool, len(a.Sigs)+len(b.Sigs))
	merged := a.Event
	out := &event.SignedEvent{Event: merged, DelegatorSeal: a.DelegatorSeal}
	for _, s := range a.Sigs {
		if !seen[s.Index] {
			seen[s.Index] = true
			out.Sigs = append(out.Sigs, s)
		}
	}
	for _, s := range b.Sigs {
		if !seen[s.Index] {
			seen[s.Index] = true
			out.Sigs = append(out.Sigs, s)
		}
	}
	if out.DelegatorSeal == nil {
		out.DelegatorSeal = b.DelegatorSeal
	}
	return out
}

func (e *PartiallySignedEscrow) attempt(prefix string, sn uint64, saidStr string) {
	k := Key{Prefix: prefix, SN: sn, SAID: saidStr}
	e.mu.Lock()
	entry, ok := e.entries[k]
	if !ok {
		e.mu.Unlock()
		return
	}
	if stale(entry.timestamp, time.Now(), e.window) {
		delete(e.entries, k)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	prior, err := e.states.State(prefix)
	if err != nil {
		return
	}
	ns, verr := validator.Validate(prior, entry.se, entry.raw, e.deps)

	e.mu.Lock()
	delete(e.entries, k)
	e.mu.Unlock()

	if verr == nil {
		_ = e.commit.Commit(ns, entry.se, entry.raw)
		return
	}

	var ve *kerierr.ValidationError
	if !errors.As(verr, &ve) {
		return
	}
	if ve.Kind == kerierr.KindNotEnoughSigs {
		// Still not enough; re-escrow unchanged so a later union attempt can
		// retry.
		e.mu.Lock()
		e.entries[k] = entry
		e.mu.Unlock()
		return
	}
	if e.router == nil || !kerierr.Escrowable(ve.Kind) {
		return
	}
	// spec §4.6 row 2: NotEnoughReceipts forwards to PartiallyWitnessed,
	// MissingDelegating forwards to Delegation.
	if ve.Kind == kerierr.KindNotEnoughReceipts {
		e.router.RouteWitnessed(ns, entry.se, entry.raw)
		return
	}
	e.router.Route(ve.Kind, prefix, sn, entry.se, entry.raw)
}

// Len reports the number of escrowed entries.
func (e *PartiallySignedEscrow) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}
