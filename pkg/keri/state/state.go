// Copyright 2025 Certen Protocol
//
// Package state implements the per-identifier accumulated state of spec §3.4
// and the witness-tally math of spec §4.3. The tally reuses event.Threshold
// (simple k-of-n / weighted clauses) since spec §4.3 describes the same
// arithmetic the key-signing threshold uses, generalized from the teacher's
// ThresholdConfig.CalculateThresholdWeight/IsThresholdMet
// (pkg/attestation/strategy/interface.go).

package state

import (
	"github.com/certen/keri-core/pkg/keri/event"
	"github.com/certen/keri-core/pkg/keri/said"
)

// KeyConfig is the current signing authority: threshold, ordered keys, and
// the pre-rotation commitment for the *next* establishment event.
type KeyConfig struct {
	Threshold event.Threshold
	Keys      []said.BasicPrefix
	Next      event.NextKeysData
}

// WitnessConfig is the current witness set and the tally required for
// receipt sufficiency.
type WitnessConfig struct {
	Tally     event.Threshold
	Witnesses []said.BasicPrefix
}

// IndexOf returns the position of bp in w's witness list, or -1.
func (w WitnessConfig) IndexOf(bp said.BasicPrefix) int {
	for i, c := range w.Witnesses {
		if c.String() == bp.String() {
			return i
		}
	}
	return -1
}

// SatisfiedBy reports whether the signatures over data, when verified against the
// witness list, meet w.Tally's threshold. Signatures from non-listed
// witnesses, and signatures that fail to verify, are ignored rather than
// treated as errors (spec §4.3).
func (w WitnessConfig) SatisfiedBy(data []byte, sigs []WitnessSig) bool {
	var indices []int
	for _, s := range sigs {
		idx := w.IndexOf(s.Witness)
		if idx < 0 {
			continue
		}
		if !said.VerifySignature(s.Witness, s.Sig, data) {
			continue
		}
		indices = append(indices, idx)
	}
	return w.Tally.Satisfies(indices, len(w.Witnesses))
}

// WitnessSig is a witness identity paired with a claimed signature, used as
// input to SatisfiedBy so the tally can both verify and count in one pass.
type WitnessSig struct {
	Witness said.BasicPrefix
	Sig     said.SelfSigningPrefix
}

// EstablishmentSeal records the sn/digest of the last establishment event
// plus the witness-set delta it applied, per spec §3.4.
type EstablishmentSeal struct {
	SN               uint64
	SAID             string
	WitnessesRemoved []said.BasicPrefix
	WitnessesAdded   []said.BasicPrefix
}

// IdentifierState is the accumulated state after applying all events up to
// some sn (spec §3.4).
type IdentifierState struct {
	Prefix          string
	SN              uint64
	LastEventDigest string
	LastPrevious    string
	LastEventType   event.Type

	Current       KeyConfig
	WitnessConfig WitnessConfig

	// Delegator is non-empty iff the identifier was delegated-incepted.
	Delegator string

	LastEst EstablishmentSeal
}

// Empty reports whether s represents "no prior state" — the only state from
// which an inception-class event may be validated.
func (s IdentifierState) Empty() bool {
	return s.Prefix == ""
}

// KeyIndex returns the position of bp in the current key list, or -1.
func (s IdentifierState) KeyIndex(bp said.BasicPrefix) int {
	for i, k := range s.Current.Keys {
		if k.String() == bp.String() {
			return i
		}
	}
	return -1
}
