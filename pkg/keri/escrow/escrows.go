// Copyright 2025 Certen Protocol

package escrow

import (
	"github.com/certen/keri-core/pkg/keri/event"
	"github.com/certen/keri-core/pkg/keri/kerierr"
	"github.com/certen/keri-core/pkg/keri/notify"
	"github.com/certen/keri-core/pkg/keri/state"
	"github.com/certen/keri-core/pkg/keri/validator"
)

// Windows configures the staleness window for each escrow class; each class
// has its own, per spec §4.6.
type Windows struct {
	OutOfOrder         Window
	PartiallySigned    Window
	PartiallyWitnessed Window
	Delegation         Window
	TransReceipts      Window
}

// Escrows bundles the five escrow buffers and wires them to a shared bus, so
// the cross-escrow forwarding of spec §4.6 (PartiallySigned routing a
// re-validated entry to PartiallyWitnessed or Delegation) can happen without
// escrow.go importing the processor.
type Escrows struct {
	OutOfOrder         *OutOfOrderEscrow
	PartiallySigned    *PartiallySignedEscrow
	PartiallyWitnessed *PartiallyWitnessedEscrow
	Delegation         *DelegationEscrow
	TransReceipts      *TransReceiptsEscrow
}

// New constructs all five escrows and subscribes them to bus.
func New(
	bus *notify.Bus,
	states StateLookup,
	deps validator.Deps,
	commit Committer,
	onFileReceipts func(prefix string, sn uint64, digest string) ([]state.WitnessSig, error),
	signers SignerStateLookup,
	rawBytes func(prefix string, sn uint64, said string) ([]byte, error),
	receiptCommit ReceiptCommitter,
	w Windows,
) *Escrows {
	es := &Escrows{
		OutOfOrder:         NewOutOfOrderEscrow(bus, states, deps, commit, w.OutOfOrder),
		PartiallySigned:    NewPartiallySignedEscrow(bus, states, deps, commit, w.PartiallySigned),
		PartiallyWitnessed: NewPartiallyWitnessedEscrow(bus, onFileReceipts, commit, w.PartiallyWitnessed),
		Delegation:         NewDelegationEscrow(bus, states, deps, commit, w.Delegation),
		TransReceipts:      NewTransReceiptsEscrow(bus, signers, rawBytes, receiptCommit, w.TransReceipts),
	}
	es.OutOfOrder.SetRouter(es)
	es.PartiallySigned.SetRouter(es)
	return es
}

// Route implements Router: it forwards a signed event that re-validation
// revealed is blocked on a different kind than the one that originally
// escrowed it.
func (es *Escrows) Route(kind kerierr.Kind, prefix string, sn uint64, se *event.SignedEvent, raw []byte) {
	switch kind {
	case kerierr.KindEventOutOfOrder:
		es.OutOfOrder.Insert(prefix, sn, se, raw)
	case kerierr.KindNotEnoughSigs:
		es.PartiallySigned.Insert(prefix, sn, se, raw)
	case kerierr.KindMissingDelegating:
		es.Delegation.Insert(prefix, sn, se, raw)
	// KindNotEnoughReceipts never reaches Route: callers that already have
	// the candidate state (validator.Validate's second return value) call
	// RouteWitnessed instead, since this signature has no room for it.
	default:
	}
}

// RouteWitnessed implements Router: it forwards an event a re-validation
// found valid but short on receipts, straight to PartiallyWitnessed with the
// candidate state the caller already computed.
func (es *Escrows) RouteWitnessed(ns state.IdentifierState, se *event.SignedEvent, raw []byte) {
	es.PartiallyWitnessed.InsertEvent(ns, se, raw)
}

// Depth reports the current size of every escrow, for metrics.
func (es *Escrows) Depth() map[string]int {
	return map[string]int{
		"out_of_order":        es.OutOfOrder.Len(),
		"partially_signed":    es.PartiallySigned.Len(),
		"partially_witnessed": es.PartiallyWitnessed.Len(),
		"delegation":          es.Delegation.Len(),
		"trans_receipts":      es.TransReceipts.Len(),
	}
}
