// Copyright 2025 Certen Protocol
//
// Package escrow implements the five escrow buffers of spec §4.6: bounded
// lifetime holding areas for messages that are structurally valid but not
// yet acceptable. Each escrow is an indexed buffer keyed by (prefix, sn,
// SAID) with a staleness timer; each subscribes to specific notify.Tags and,
// on notification, scans a narrow slice of its buffer and attempts
// promotion.
//
// Escrows talk to each other directly rather than exclusively through the
// bus — a forwarded event (e.g. PartiallySigned discovering the signatures
// it now has are sufficient but receipts are not) carries its full payload
// from one escrow's buffer into another's, not just a notification tag.
package escrow

import (
	"time"

	"github.com/certen/keri-core/pkg/keri/event"
	"github.com/certen/keri-core/pkg/keri/kerierr"
	"github.com/certen/keri-core/pkg/keri/state"
)

// Key identifies an escrowed entry. It is the common indexing shape every
// escrow in this package uses (spec §4.6: "indexed buffer keyed by (prefix,
// sn, SAID)").
type Key struct {
	Prefix string
	SN     uint64
	SAID   string
}

// Window configures how long an entry may sit in an escrow before a scan is
// entitled to drop it. Staleness is advisory (spec §4.6): it never produces
// a user-visible error, it just stops a stale entry from being retried.
type Window time.Duration

// stale reports whether an entry inserted at t has exceeded w as of now.
func stale(t time.Time, now time.Time, w Window) bool {
	return now.Sub(t) > time.Duration(w)
}

// Committer finalizes a promoted key event: appending it to the identifier's
// log, updating accumulated state, and publishing KeyEventAdded so other
// escrows cascade. Implemented by the processor package, which owns
// storage.
type Committer interface {
	Commit(ns state.IdentifierState, se *event.SignedEvent, raw []byte) error
}

// ReceiptCommitter finalizes a promoted transferable receipt.
type ReceiptCommitter interface {
	CommitTransReceipt(r *event.TransReceipt) error
}

// StateLookup resolves the current accumulated state for an identifier, so
// an escrow can re-run the validator against the latest prior state rather
// than the one captured at insertion time.
type StateLookup interface {
	State(prefix string) (state.IdentifierState, error)
}

// Router forwards a signed event to whichever escrow matches kind, after a
// re-validation reveals it is blocked for a different reason than the one
// that originally escrowed it (spec §4.6's PartiallySigned row: "If result
// is NotEnoughReceipts, forward to partially-witnessed; if
// MissingDelegating…, forward to delegation escrow"). Implemented by the
// top-level Escrows wiring.
type Router interface {
	Route(kind kerierr.Kind, prefix string, sn uint64, se *event.SignedEvent, raw []byte)

	// RouteWitnessed forwards to the PartiallyWitnessed escrow specifically:
	// unlike Route, it carries the candidate state a re-validation already
	// produced alongside KindNotEnoughReceipts, which that escrow needs and
	// Route's signature has no room for.
	RouteWitnessed(ns state.IdentifierState, se *event.SignedEvent, raw []byte)
}
