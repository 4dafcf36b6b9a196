// Copyright 2025 Certen Protocol

package escrow

import (
	"sync"
	"time"

	"github.com/certen/keri-core/pkg/keri/event"
	"github.com/certen/keri-core/pkg/keri/notify"
	"github.com/certen/keri-core/pkg/keri/state"
)

type witnessedEventEntry struct {
	ns        state.IdentifierState
	se        *event.SignedEvent
	raw       []byte
	timestamp time.Time
}

type strayReceiptEntry struct {
	sigs      []state.WitnessSig
	timestamp time.Time
}

// PartiallyWitnessedEscrow holds two related kinds of entries (spec §4.6
// row 3): validator-accepted events that are short on receipts, and
// non-transferable receipts that arrived before the event they attest to
// (the "nontrans-receipt escrow" of spec §4.5, folded into this one since
// both resolve with the same promotion check).
type PartiallyWitnessedEscrow struct {
	mu       sync.Mutex
	events   map[Key]witnessedEventEntry
	receipts map[Key]strayReceiptEntry
	window   Window

	onFile func(prefix string, sn uint64, digest string) ([]state.WitnessSig, error)
	commit Committer
}

// NewPartiallyWitnessedEscrow constructs an escrow and subscribes it to the
// PartiallyWitnessed and ReceiptOutOfOrder notifications. onFile resolves
// the receipts already durably stored for a key (the permanent receipt
// store, as opposed to this escrow's stray-receipt buffer).
func NewPartiallyWitnessedEscrow(bus *notify.Bus, onFile func(prefix string, sn uint64, digest string) ([]state.WitnessSig, error), commit Committer, window Window) *PartiallyWitnessedEscrow {
	e := &PartiallyWitnessedEscrow{
		events:   make(map[Key]witnessedEventEntry),
		receipts: make(map[Key]strayReceiptEntry),
		window:   window,
		onFile:   onFile,
		commit:   commit,
	}
	bus.Subscribe(notify.PartiallyWitnessed, func(ev notify.Event) { e.attempt(Key{Prefix: ev.Prefix, SN: ev.SN, SAID: ev.SAID}) })
	bus.Subscribe(notify.ReceiptOutOfOrder, func(ev notify.Event) { e.attempt(Key{Prefix: ev.Prefix, SN: ev.SN, SAID: ev.SAID}) })
	return e
}

// InsertEvent escrows a validator-accepted event that is short on receipts.
// ns is the candidate state the validator already computed (spec §4.2:
// Validate returns the candidate state alongside NotEnoughReceipts so this
// escrow never has to re-run the full validator).
func (e *PartiallyWitnessedEscrow) InsertEvent(ns state.IdentifierState, se *event.SignedEvent, raw []byte) {
	k := Key{Prefix: ns.Prefix, SN: ns.SN, SAID: ns.LastEventDigest}
	e.mu.Lock()
	e.events[k] = witnessedEventEntry{ns: ns, se: se, raw: raw, timestamp: time.Now()}
	e.mu.Unlock()
	e.attempt(k)
}

// InsertReceipt escrows a non-transferable receipt for an event not yet on
// file.
func (e *PartiallyWitnessedEscrow) InsertReceipt(prefix string, sn uint64, digest string, sig state.WitnessSig) {
	k := Key{Prefix: prefix, SN: sn, SAID: digest}
	e.mu.Lock()
	entry := e.receipts[k]
	entry.sigs = append(entry.sigs, sig)
	entry.timestamp = time.Now()
	e.receipts[k] = entry
	e.mu.Unlock()
	e.attempt(k)
}

// attempt re-evaluates the witness tally for k using every receipt known
// for it — durably stored plus escrowed-stray — against the escrowed
// event's witness configuration, if one is present (spec §4.6 row 3:
// "re-evaluate witness tally with all known receipts ... on success,
// promote event and absorb receipts").
func (e *PartiallyWitnessedEscrow) attempt(k Key) {
	e.mu.Lock()
	we, hasEvent := e.events[k]
	strays := append([]state.WitnessSig(nil), e.receipts[k].sigs...)
	now := time.Now()
	if hasEvent && stale(we.timestamp, now, e.window) {
		delete(e.events, k)
		hasEvent = false
	}
	e.mu.Unlock()

	if !hasEvent {
		return
	}

	onFile, err := e.onFile(k.Prefix, k.SN, k.SAID)
	if err != nil {
		return
	}
	all := append(append([]state.WitnessSig(nil), onFile...), strays...)

	if !we.ns.WitnessConfig.SatisfiedBy(we.raw, all) {
		return
	}

	if err := e.commit.Commit(we.ns, we.se, we.raw); err != nil {
		return
	}
	e.mu.Lock()
	delete(e.events, k)
	delete(e.receipts, k)
	e.mu.Unlock()
}

// Len reports the number of escrowed events plus stray receipts.
func (e *PartiallyWitnessedEscrow) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events) + len(e.receipts)
}
