// Copyright 2025 Certen Protocol
//
// Package validator implements the state-transition validator of spec §4.2:
// applying a signed key event to a prior identifier state, verifying
// controller signatures against the current key configuration, verifying the
// pre-rotation commitment, checking delegator seals, and checking receipt
// sufficiency.
//
// Diagnostic accumulation (collect every violation before reporting) is the
// teacher's style for read-only block checks (VerifyValidatorBlockInvariants,
// pkg/consensus/validator_block_invariants.go); the hot validation path here
// instead returns the first fatal kerierr immediately, because each failure
// kind routes to a different escrow and the caller needs exactly one kind to
// route on, not a diagnostic list.

package validator

import (
	"fmt"

	"github.com/certen/keri-core/pkg/keri/event"
	"github.com/certen/keri-core/pkg/keri/kerierr"
	"github.com/certen/keri-core/pkg/keri/said"
	"github.com/certen/keri-core/pkg/keri/state"
)

// DelegatorLookup resolves seals anchored by a delegator's event at a given
// sn, so the validator can check the delegation anchor (spec §4.2 step 3)
// without depending on the storage package directly.
type DelegatorLookup interface {
	SealsAt(delegatorPrefix string, sn uint64) (seals []event.Seal, found bool, err error)
}

// ReceiptLookup gathers non-transferable receipts already on file for
// (prefix, sn, digest), used for the receipt-sufficiency check (spec §4.2
// step 4).
type ReceiptLookup interface {
	WitnessSigsFor(prefix string, sn uint64, digest string) ([]state.WitnessSig, error)
}

// Deps bundles the validator's collaborators.
type Deps struct {
	Delegators DelegatorLookup
	Receipts   ReceiptLookup
	HashCode   said.Code // hash code used to verify pre-rotation digests
}

func parseKeys(qb64 []string) ([]said.BasicPrefix, error) {
	out := make([]said.BasicPrefix, len(qb64))
	for i, k := range qb64 {
		bp, err := said.ParseBasicPrefix(k)
		if err != nil {
			return nil, fmt.Errorf("validator: parse key %d: %w", i, err)
		}
		out[i] = bp
	}
	return out, nil
}

func applyWitnessDelta(prior []said.BasicPrefix, cut, add []string) ([]said.BasicPrefix, error) {
	addPrefixes, err := parseKeys(add)
	if err != nil {
		return nil, err
	}
	cutSet := make(map[string]bool, len(cut))
	for _, c := range cut {
		cutSet[c] = true
	}
	out := make([]said.BasicPrefix, 0, len(prior)+len(addPrefixes))
	for _, w := range prior {
		if !cutSet[w.String()] {
			out = append(out, w)
		}
	}
	out = append(out, addPrefixes...)
	return out, nil
}

// applySemantics builds the candidate new state (spec §4.2 step 1), without
// yet checking signatures, delegation, or receipts.
func applySemantics(prior state.IdentifierState, e *event.Event) (state.IdentifierState, error) {
	if e.Type.IsInceptive() {
		if !prior.Empty() {
			return state.IdentifierState{}, kerierr.New(kerierr.KindEventOutOfOrder,
				"inception-class event for already-incepted identifier %s", prior.Prefix)
		}
		if e.SN != 0 {
			return state.IdentifierState{}, kerierr.New(kerierr.KindEventOutOfOrder,
				"inception-class event must have sn=0, got %d", e.SN)
		}

		keys, err := parseKeys(e.Keys)
		if err != nil {
			return state.IdentifierState{}, err
		}
		witnesses, err := parseKeys(e.Witnesses)
		if err != nil {
			return state.IdentifierState{}, err
		}

		ns := state.IdentifierState{
			Prefix:          e.Prefix,
			SN:              0,
			LastEventDigest: e.SAID,
			LastPrevious:    "",
			LastEventType:   e.Type,
			Current: state.KeyConfig{
				Threshold: e.KeyThreshold,
				Keys:      keys,
				Next:      e.Next(),
			},
			WitnessConfig: state.WitnessConfig{
				Tally:     event.SimpleThreshold(e.WitnessThreshold),
				Witnesses: witnesses,
			},
			LastEst: state.EstablishmentSeal{SN: 0, SAID: e.SAID},
		}
		if e.Type.IsDelegated() {
			ns.Delegator = e.Delegator
		}
		return ns, nil
	}

	if prior.Empty() {
		return state.IdentifierState{}, kerierr.New(kerierr.KindEventOutOfOrder,
			"non-inception event %s for unknown identifier", e.SAID)
	}
	if e.Prefix != prior.Prefix {
		return state.IdentifierState{}, fmt.Errorf("validator: event prefix %s does not match state prefix %s", e.Prefix, prior.Prefix)
	}
	if e.SN != prior.SN+1 {
		return state.IdentifierState{}, kerierr.New(kerierr.KindEventOutOfOrder,
			"expected sn %d, got %d", prior.SN+1, e.SN)
	}
	if e.PreviousDigest != prior.LastEventDigest {
		return state.IdentifierState{}, kerierr.New(kerierr.KindEventOutOfOrder,
			"previous-digest %s does not match prior last-event-digest %s", e.PreviousDigest, prior.LastEventDigest)
	}

	switch e.Type {
	case event.TypeInteraction:
		ns := prior
		ns.SN = e.SN
		ns.LastEventDigest = e.SAID
		ns.LastPrevious = e.PreviousDigest
		ns.LastEventType = e.Type
		return ns, nil

	case event.TypeRotation, event.TypeDelegatedRotation:
		keys, err := parseKeys(e.Keys)
		if err != nil {
			return state.IdentifierState{}, err
		}
		witnesses, err := applyWitnessDelta(prior.WitnessConfig.Witnesses, e.WitnessesCut, e.WitnessesAdd)
		if err != nil {
			return state.IdentifierState{}, err
		}
		cut, err := parseKeys(e.WitnessesCut)
		if err != nil {
			return state.IdentifierState{}, err
		}
		added, err := parseKeys(e.WitnessesAdd)
		if err != nil {
			return state.IdentifierState{}, err
		}
		ns := prior
		ns.SN = e.SN
		ns.LastEventDigest = e.SAID
		ns.LastPrevious = e.PreviousDigest
		ns.LastEventType = e.Type
		ns.Current = state.KeyConfig{
			Threshold: e.KeyThreshold,
			Keys:      keys,
			Next:      e.Next(),
		}
		ns.WitnessConfig.Witnesses = witnesses
		ns.LastEst = state.EstablishmentSeal{SN: e.SN, SAID: e.SAID, WitnessesRemoved: cut, WitnessesAdded: added}
		// Delegator is inherited unchanged for drt (spec §3.2 "dip/drt").
		return ns, nil

	default:
		return state.IdentifierState{}, fmt.Errorf("validator: unrecognized event type %q", e.Type)
	}
}

// verifyPreRotation checks spec §3.3's invariant: each disclosed new public
// key's SAID must appear in the prior establishment event's committed
// next-keys list, and the supplied signature indices must satisfy the
// committed next-threshold. Too few indices is reported as NotEnoughSigs,
// so the event can wait in escrow for more signatures.
func verifyPreRotation(prior state.IdentifierState, e *event.Event, sigs []said.IndexedSignature, hashCode said.Code) error {
	next := prior.Current.Next
	digestSet := make(map[string]bool, len(next.Digests))
	for _, d := range next.Digests {
		digestSet[d] = true
	}
	for i, k := range e.Keys {
		digest, err := said.Hash(hashCode, []byte(k))
		if err != nil {
			return fmt.Errorf("validator: hash new key %d for pre-rotation check: %w", i, err)
		}
		if !digestSet[digest] {
			return kerierr.New(kerierr.KindPreRotationMismatch,
				"new key %d (%s) not committed by prior next-keys-data", i, k)
		}
	}
	eq, err := thresholdsEqual(e.KeyThreshold, next.Threshold)
	if err != nil {
		return err
	}
	if !eq {
		return kerierr.New(kerierr.KindPreRotationMismatch, "new key threshold does not equal prior committed next-threshold")
	}

	indices := make([]int, 0, len(sigs))
	for _, s := range sigs {
		indices = append(indices, s.Index)
	}
	if !next.Threshold.Satisfies(indices, len(next.Digests)) {
		return kerierr.New(kerierr.KindNotEnoughSigs, "signature indices do not satisfy prior committed next-threshold")
	}
	return nil
}

func thresholdsEqual(a, b event.Threshold) (bool, error) {
	ab, err := jsonThreshold(a)
	if err != nil {
		return false, err
	}
	bb, err := jsonThreshold(b)
	if err != nil {
		return false, err
	}
	return ab == bb, nil
}

func jsonThreshold(t event.Threshold) (string, error) {
	b, err := t.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("validator: marshal threshold for comparison: %w", err)
	}
	return string(b), nil
}

// verifySignatures checks spec §4.2 step 2: attached indexed signatures must
// satisfy the new key configuration's threshold; duplicate or out-of-range
// indices, or any signature that fails cryptographic verification, is fatal.
func verifySignatures(ns state.IdentifierState, raw []byte, sigs []said.IndexedSignature) error {
	seen := make(map[int]bool, len(sigs))
	indices := make([]int, 0, len(sigs))
	for _, s := range sigs {
		if s.Index < 0 || s.Index >= len(ns.Current.Keys) {
			return kerierr.New(kerierr.KindSignatureVerification, "signature index %d outside key list of length %d", s.Index, len(ns.Current.Keys))
		}
		if seen[s.Index] {
			return kerierr.New(kerierr.KindSignatureVerification, "duplicate signature index %d", s.Index)
		}
		seen[s.Index] = true
		if !said.VerifySignature(ns.Current.Keys[s.Index], s.Sig, raw) {
			return kerierr.New(kerierr.KindSignatureVerification, "signature at index %d does not verify", s.Index)
		}
		indices = append(indices, s.Index)
	}
	if !ns.Current.Threshold.Satisfies(indices, len(ns.Current.Keys)) {
		return kerierr.New(kerierr.KindNotEnoughSigs, "signatures do not satisfy threshold")
	}
	return nil
}

// NextState computes the state resulting from applying e to prior, with
// none of Validate's signature/pre-rotation/delegation/receipt checks. It is
// exported for storage layers that need to re-derive the accumulated state
// of an event already known to have passed Validate (e.g. replaying a KEL
// from disk, or recording the state produced by an Append call whose
// caller only has the event, not the candidate state Validate returned).
func NextState(prior state.IdentifierState, e *event.Event) (state.IdentifierState, error) {
	return applySemantics(prior, e)
}

// Validate applies se to prior, returning the candidate new state and, on
// success, a nil error. On NotEnoughReceipts the candidate state IS returned
// alongside the error: the event is valid but escrow-worthy (spec §4.2 step
// 4), and the PartiallyWitnessed escrow uses the candidate state to
// re-evaluate the witness tally without re-running the whole validator.
func Validate(prior state.IdentifierState, se *event.SignedEvent, raw []byte, d Deps) (state.IdentifierState, error) {
	e := se.Event

	ns, err := applySemantics(prior, e)
	if err != nil {
		return state.IdentifierState{}, err
	}

	if e.Type == event.TypeRotation || e.Type == event.TypeDelegatedRotation {
		if err := verifyPreRotation(prior, e, se.Sigs, d.HashCode); err != nil {
			return state.IdentifierState{}, err
		}
	}

	if err := verifySignatures(ns, raw, se.Sigs); err != nil {
		return state.IdentifierState{}, err
	}

	if e.Type.IsDelegated() {
		if se.DelegatorSeal == nil {
			return state.IdentifierState{}, kerierr.New(kerierr.KindMissingDelegating, "delegated event carries no delegator seal reference")
		}
		seals, found, err := d.Delegators.SealsAt(ns.Delegator, se.DelegatorSeal.SN)
		if err != nil {
			return state.IdentifierState{}, fmt.Errorf("validator: looking up delegator event: %w", err)
		}
		if !found {
			return state.IdentifierState{}, kerierr.New(kerierr.KindMissingDelegating, "delegating event at sn %d not found for delegator %s", se.DelegatorSeal.SN, ns.Delegator)
		}
		anchored := false
		for _, s := range seals {
			if s.Prefix == ns.Prefix && s.SN == ns.SN && s.SAID == ns.LastEventDigest {
				anchored = true
				break
			}
		}
		if !anchored {
			return state.IdentifierState{}, kerierr.New(kerierr.KindMissingDelegating, "delegating event at sn %d lacks anchor for %s", se.DelegatorSeal.SN, ns.Prefix)
		}
	}

	onFile, err := d.Receipts.WitnessSigsFor(ns.Prefix, ns.SN, ns.LastEventDigest)
	if err != nil {
		return state.IdentifierState{}, fmt.Errorf("validator: looking up on-file receipts: %w", err)
	}
	if !ns.WitnessConfig.SatisfiedBy(raw, onFile) {
		return ns, kerierr.New(kerierr.KindNotEnoughReceipts, "witness tally not met for %s sn %d", ns.Prefix, ns.SN)
	}

	return ns, nil
}
