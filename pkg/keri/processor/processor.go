// Copyright 2025 Certen Protocol
//
// Package processor implements spec §4.5: the single entry point that
// dispatches an inbound message by kind, runs it through the validator or
// receipt-processing rules of spec §4.2/§4.4, and either commits it to the
// log or routes it into the matching escrow (spec §4.6). It implements the
// collaborator interfaces the escrow package defines (ReceiptCommitter,
// StateLookup, SignerStateLookup; Committer through the promotedCommitter
// adapter) so escrow.New can be wired directly against it, the same way the teacher wires a single
// concrete type against several narrow consumer-defined interfaces (see
// pkg/consensus/abci_validator.go's ABCI method set).
package processor

import (
	"errors"
	"fmt"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/certen/keri-core/pkg/keri/escrow"
	"github.com/certen/keri-core/pkg/keri/event"
	"github.com/certen/keri-core/pkg/keri/kerierr"
	"github.com/certen/keri-core/pkg/keri/notify"
	"github.com/certen/keri-core/pkg/keri/said"
	"github.com/certen/keri-core/pkg/keri/state"
	"github.com/certen/keri-core/pkg/keri/validator"
)

// Log is the durable per-identifier event log this processor commits
// accepted events to. It also answers the read-side questions the validator
// and escrows need (current state, delegator seals, signer key
// configuration at a past establishment event), so every collaborator
// dependency funnels through one storage contract.
type Log interface {
	// State returns the accumulated state for prefix, or the zero value if
	// the identifier is unknown.
	State(prefix string) (state.IdentifierState, error)
	// Append persists a newly-accepted event at the end of prefix's KEL.
	Append(prefix string, sn uint64, se *event.SignedEvent, raw []byte) error
	// AcceptedAt reports the SAID already accepted for (prefix, sn), used to
	// distinguish an idempotent duplicate from a duplicitous event.
	AcceptedAt(prefix string, sn uint64) (saidStr string, raw []byte, found bool, err error)
	// RawAt resolves the exact serialized bytes of the event (prefix, sn,
	// said), the data a receipt's signatures were made over.
	RawAt(prefix string, sn uint64, said string) ([]byte, error)
	// SealsAt implements validator.DelegatorLookup.
	SealsAt(delegatorPrefix string, sn uint64) (seals []event.Seal, found bool, err error)
	// KeyConfigAt resolves the key configuration established at
	// (prefix, sn, digest), used to verify a transferable receipt's signer.
	KeyConfigAt(prefix string, sn uint64, digest string) (state.KeyConfig, bool, error)
}

// ReceiptStore holds the Receipts-NT / Receipts-T tables of spec §6.3.
type ReceiptStore interface {
	WitnessSigsFor(prefix string, sn uint64, digest string) ([]state.WitnessSig, error)
	AppendWitnessSigs(prefix string, sn uint64, digest string, sigs []state.WitnessSig) error
	AppendTransReceipt(r *event.TransReceipt) error
}

// DuplicitousStore holds the forensic table of spec §4.5: events that never
// overwrite the accepted log.
type DuplicitousStore interface {
	RecordDuplicitous(prefix string, sn uint64, se *event.SignedEvent, raw []byte) error
}

// ReplyHandler processes a reply/KSN message (spec §4.7). It is optional: a
// Processor built without one rejects replies outright. Supplied by
// pkg/keri/reply once constructed.
type ReplyHandler interface {
	HandleReply(raw []byte) error
}

// Processor dispatches inbound messages (spec §4.5).
type Processor struct {
	bus        *notify.Bus
	log        Log
	receipts   ReceiptStore
	dup        DuplicitousStore
	escrows    *escrow.Escrows
	replies    ReplyHandler
	delegators validator.DelegatorLookup

	hashCode said.Code
	logger   cmtlog.Logger
	metrics  *Metrics
}

// Config bundles the dependencies and tuning knobs a Processor is built
// from.
type Config struct {
	Log         Log
	Receipts    ReceiptStore
	Duplicitous DuplicitousStore
	// Delegators resolves delegator anchoring seals (spec §4.2 step 3). If
	// nil, Log itself is used (it satisfies validator.DelegatorLookup).
	Delegators validator.DelegatorLookup
	HashCode   said.Code
	Windows    escrow.Windows
	Logger     cmtlog.Logger
	Metrics    *Metrics
}

// New wires a Processor and its five escrows against the same bus and
// storage collaborators.
func New(bus *notify.Bus, cfg Config) *Processor {
	delegators := cfg.Delegators
	if delegators == nil {
		delegators = cfg.Log
	}
	logger := cfg.Logger
	if logger == nil {
		logger = cmtlog.NewNopLogger()
	}
	p := &Processor{
		bus:        bus,
		log:        cfg.Log,
		receipts:   cfg.Receipts,
		dup:        cfg.Duplicitous,
		delegators: delegators,
		hashCode:   cfg.HashCode,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
	p.escrows = escrow.New(bus, p, p.deps(), &promotedCommitter{p: p}, cfg.Receipts.WitnessSigsFor, p, cfg.Log.RawAt, p, cfg.Windows)
	return p
}

// SetReplyHandler wires reply processing in after construction, avoiding an
// import cycle between pkg/keri/processor and pkg/keri/reply (reply escrows
// replay into this processor's State/KeyEventAdded machinery).
func (p *Processor) SetReplyHandler(h ReplyHandler) { p.replies = h }

// Escrows exposes the wired escrow buffers, for metrics collection and
// administrative inspection.
func (p *Processor) Escrows() *escrow.Escrows { return p.escrows }

// RefreshEscrowDepth publishes the current size of every escrow class to
// Metrics. Cheap enough to call after every processed message.
func (p *Processor) RefreshEscrowDepth() {
	if p.metrics != nil {
		p.metrics.SetEscrowDepth(p.escrows.Depth())
	}
}

func (p *Processor) deps() validator.Deps {
	return validator.Deps{Delegators: p.delegators, Receipts: p.receipts, HashCode: p.hashCode}
}

// --- escrow.StateLookup / escrow.SignerStateLookup ---

func (p *Processor) State(prefix string) (state.IdentifierState, error) { return p.log.State(prefix) }

func (p *Processor) KeyConfigAt(signerPrefix string, sn uint64, digest string) (state.KeyConfig, bool, error) {
	return p.log.KeyConfigAt(signerPrefix, sn, digest)
}

// --- escrow.ReceiptCommitter ---

func (p *Processor) CommitTransReceipt(r *event.TransReceipt) error {
	if err := p.receipts.AppendTransReceipt(r); err != nil {
		return fmt.Errorf("processor: append transferable receipt: %w", err)
	}
	if p.metrics != nil {
		p.metrics.ReceiptsAccepted.Inc()
	}
	p.logger.Info("transferable receipt accepted", "prefix", r.Receipt.Prefix, "sn", r.Receipt.SN, "signer", r.SignerSeal.Prefix)
	p.bus.Publish(notify.Event{Tag: notify.ReceiptAccepted, Prefix: r.Receipt.Prefix, SN: r.Receipt.SN, SAID: r.Receipt.EventSAID, CorrelationID: notify.NewCorrelationID()})
	return nil
}

// commitInternal appends se/raw as the accepted event at ns.SN and publishes
// KeyEventAdded (spec §4.5: "on success, append to the log and emit
// KeyEventAdded"). promoted distinguishes a direct acceptance (ProcessKeyEvent)
// from one that surfaced out of an escrow, purely for metrics.
func (p *Processor) commitInternal(ns state.IdentifierState, se *event.SignedEvent, raw []byte, promoted bool) error {
	if err := p.log.Append(ns.Prefix, ns.SN, se, raw); err != nil {
		return fmt.Errorf("processor: append key event: %w", err)
	}
	if p.metrics != nil {
		p.metrics.EventsAccepted.Inc()
		if promoted {
			p.metrics.PromotionsTotal.Inc()
		}
	}
	p.logger.Info("key event accepted", "prefix", ns.Prefix, "sn", ns.SN, "type", se.Event.Type, "promoted", promoted)
	p.bus.Publish(notify.Event{Tag: notify.KeyEventAdded, Prefix: ns.Prefix, SN: ns.SN, SAID: ns.LastEventDigest, CorrelationID: notify.NewCorrelationID()})
	return nil
}

// promotedCommitter adapts Processor to escrow.Committer, tagging every
// commit it forwards as escrow-originated so metrics can distinguish direct
// acceptance from promotion without the escrow package needing to know
// anything about metrics.
type promotedCommitter struct{ p *Processor }

func (c *promotedCommitter) Commit(ns state.IdentifierState, se *event.SignedEvent, raw []byte) error {
	return c.p.commitInternal(ns, se, raw, true)
}

// ProcessKeyEvent runs se through the validator against prefix's current
// state (spec §4.2), then either commits it, detects it as duplicitous, or
// escrows it under the matching class (spec §4.5/§4.6).
func (p *Processor) ProcessKeyEvent(se *event.SignedEvent, raw []byte) error {
	prefix, sn := se.Event.Prefix, se.Event.SN

	prior, err := p.log.State(prefix)
	if err != nil {
		return fmt.Errorf("processor: load state for %s: %w", prefix, err)
	}

	if !prior.Empty() && sn <= prior.SN {
		acceptedSAID, _, found, err := p.log.AcceptedAt(prefix, sn)
		if err != nil {
			return fmt.Errorf("processor: load accepted digest for %s sn %d: %w", prefix, sn, err)
		}
		if found {
			if acceptedSAID == se.Event.SAID {
				p.logger.Debug("duplicate key event ignored", "prefix", prefix, "sn", sn)
				return nil
			}
			p.logger.Info("duplicitous event detected", "prefix", prefix, "sn", sn, "accepted", acceptedSAID, "seen", se.Event.SAID)
			if err := p.dup.RecordDuplicitous(prefix, sn, se, raw); err != nil {
				return fmt.Errorf("processor: record duplicitous event: %w", err)
			}
			if p.metrics != nil {
				p.metrics.DuplicitousTotal.Inc()
			}
			p.bus.Publish(notify.Event{Tag: notify.DuplicitousEvent, Prefix: prefix, SN: sn, SAID: se.Event.SAID, CorrelationID: notify.NewCorrelationID()})
			return kerierr.New(kerierr.KindDuplicitousEvent, "event at %s sn %d conflicts with accepted digest %s", prefix, sn, acceptedSAID)
		}
	}

	ns, verr := validator.Validate(prior, se, raw, p.deps())
	if verr == nil {
		return p.commitInternal(ns, se, raw, false)
	}

	var ve *kerierr.ValidationError
	if !errors.As(verr, &ve) {
		p.logger.Error("key event processing error", "prefix", prefix, "sn", sn, "err", verr)
		return verr
	}

	switch ve.Kind {
	case kerierr.KindEventOutOfOrder:
		p.escrows.OutOfOrder.Insert(prefix, sn, se, raw)
		p.bus.Publish(notify.Event{Tag: notify.OutOfOrder, Prefix: prefix, SN: sn, SAID: se.Event.SAID, Err: verr, CorrelationID: notify.NewCorrelationID()})
	case kerierr.KindNotEnoughSigs:
		p.escrows.PartiallySigned.Insert(prefix, sn, se, raw)
		p.bus.Publish(notify.Event{Tag: notify.PartiallySigned, Prefix: prefix, SN: sn, SAID: se.Event.SAID, Err: verr, CorrelationID: notify.NewCorrelationID()})
	case kerierr.KindNotEnoughReceipts:
		p.escrows.PartiallyWitnessed.InsertEvent(ns, se, raw)
		p.bus.Publish(notify.Event{Tag: notify.PartiallyWitnessed, Prefix: prefix, SN: sn, SAID: se.Event.SAID, Err: verr, CorrelationID: notify.NewCorrelationID()})
	case kerierr.KindMissingDelegating:
		p.escrows.Delegation.Insert(prefix, sn, se, raw)
		p.bus.Publish(notify.Event{Tag: notify.MissingDelegatingEvent, Prefix: prefix, SN: sn, SAID: se.Event.SAID, Err: verr, CorrelationID: notify.NewCorrelationID()})
	default:
		p.logger.Error("key event rejected", "prefix", prefix, "sn", sn, "kind", ve.Kind, "err", verr)
	}
	p.RefreshEscrowDepth()
	return verr
}

// ProcessNonTransReceipt implements spec §4.4's first two rows: verify
// witness couples against the receipted event's bytes if it is on file,
// otherwise escrow (keyed by prefix, sn, digest) for later promotion.
//
// Only the Couples attachment group is verified here, matching spec §4.4's
// literal description ("verify every (witness, signature) couple"); the
// IndexedSigs field is carried for CESR wire compatibility but a
// non-transferable receipt has no witness list of its own to resolve an
// index against independent of the event it receipts.
func (p *Processor) ProcessNonTransReceipt(r *event.NonTransReceipt) error {
	prefix, sn, digest := r.Receipt.Prefix, r.Receipt.SN, r.Receipt.EventSAID

	acceptedSAID, raw, found, err := p.log.AcceptedAt(prefix, sn)
	if err != nil {
		return fmt.Errorf("processor: load accepted event for receipt %s sn %d: %w", prefix, sn, err)
	}
	if !found || acceptedSAID != digest {
		for _, c := range r.Couples {
			p.escrows.PartiallyWitnessed.InsertReceipt(prefix, sn, digest, state.WitnessSig{Witness: c.Witness, Sig: c.Sig})
		}
		p.bus.Publish(notify.Event{Tag: notify.ReceiptOutOfOrder, Prefix: prefix, SN: sn, SAID: digest, CorrelationID: notify.NewCorrelationID()})
		p.RefreshEscrowDepth()
		return nil
	}

	var verified []state.WitnessSig
	for _, c := range r.Couples {
		if said.VerifySignature(c.Witness, c.Sig, raw) {
			verified = append(verified, state.WitnessSig{Witness: c.Witness, Sig: c.Sig})
		}
	}
	if len(verified) == 0 {
		return nil
	}
	if err := p.receipts.AppendWitnessSigs(prefix, sn, digest, verified); err != nil {
		return fmt.Errorf("processor: append witness receipts: %w", err)
	}
	if p.metrics != nil {
		p.metrics.ReceiptsAccepted.Add(float64(len(verified)))
	}
	p.bus.Publish(notify.Event{Tag: notify.ReceiptAccepted, Prefix: prefix, SN: sn, SAID: digest, CorrelationID: notify.NewCorrelationID()})
	return nil
}

// ProcessTransReceipt implements spec §4.4's third row.
func (p *Processor) ProcessTransReceipt(r *event.TransReceipt) error {
	kc, found, err := p.log.KeyConfigAt(r.SignerSeal.Prefix, r.SignerSeal.SN, r.SignerSeal.SAID)
	if !found || err != nil {
		p.escrows.TransReceipts.Insert(r.Receipt.Prefix, r.Receipt.SN, r.Receipt.EventSAID, r)
		p.bus.Publish(notify.Event{Tag: notify.TransReceiptOutOfOrder, Prefix: r.Receipt.Prefix, SN: r.Receipt.SN, SAID: r.Receipt.EventSAID, CorrelationID: notify.NewCorrelationID()})
		p.RefreshEscrowDepth()
		return nil
	}

	raw, err := p.log.RawAt(r.Receipt.Prefix, r.Receipt.SN, r.Receipt.EventSAID)
	if err != nil || raw == nil {
		// The receipted event itself isn't on file yet; treat the same as an
		// unknown signer and retry once the log catches up.
		p.escrows.TransReceipts.Insert(r.Receipt.Prefix, r.Receipt.SN, r.Receipt.EventSAID, r)
		p.bus.Publish(notify.Event{Tag: notify.TransReceiptOutOfOrder, Prefix: r.Receipt.Prefix, SN: r.Receipt.SN, SAID: r.Receipt.EventSAID, CorrelationID: notify.NewCorrelationID()})
		p.RefreshEscrowDepth()
		return nil
	}

	var indices []int
	for _, s := range r.Sigs {
		if s.Index < 0 || s.Index >= len(kc.Keys) {
			continue
		}
		if said.VerifySignature(kc.Keys[s.Index], s.Sig, raw) {
			indices = append(indices, s.Index)
		}
	}
	if !kc.Threshold.Satisfies(indices, len(kc.Keys)) {
		return kerierr.New(kerierr.KindSignatureVerification, "transferable receipt signatures do not satisfy signer threshold")
	}
	return p.CommitTransReceipt(r)
}

// ProcessReply implements spec §4.7's entry point: signature verification and
// BADA ordering are pkg/keri/reply's concern; the processor only routes.
func (p *Processor) ProcessReply(raw []byte) error {
	if p.replies == nil {
		return fmt.Errorf("processor: no reply handler configured")
	}
	return p.replies.HandleReply(raw)
}
