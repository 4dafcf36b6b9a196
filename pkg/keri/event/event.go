// Copyright 2025 Certen Protocol
//
// Package event implements the five key-event variants and two receipt
// variants of spec §3.2, sharing the common envelope of spec §3.2 ("All
// events share an envelope"). One struct per event/receipt family carries
// every field any variant needs, `omitempty`-tagged, matching the teacher's
// ValidatorBlock convention of a single consolidated wire struct
// (pkg/consensus/validator_block.go) rather than a sum type per variant.

package event

// Type is the two/three-letter tag identifying an event or receipt variant.
type Type string

const (
	TypeInception         Type = "icp"
	TypeRotation          Type = "rot"
	TypeInteraction       Type = "ixn"
	TypeDelegatedInception Type = "dip"
	TypeDelegatedRotation Type = "drt"
	TypeReceipt           Type = "rct"
)

// IsEstablishment reports whether t changes the key configuration.
func (t Type) IsEstablishment() bool {
	switch t {
	case TypeInception, TypeRotation, TypeDelegatedInception, TypeDelegatedRotation:
		return true
	default:
		return false
	}
}

// IsInceptive reports whether t may legally be the first event of a KEL.
func (t Type) IsInceptive() bool {
	return t == TypeInception || t == TypeDelegatedInception
}

// IsDelegated reports whether t carries a delegator.
func (t Type) IsDelegated() bool {
	return t == TypeDelegatedInception || t == TypeDelegatedRotation
}

// Seal anchors a reference to another event: either an arbitrary
// application seal (prefix+sn+digest describing some external datum) or,
// when used as a delegation anchor, the event-seal of a delegated event.
type Seal struct {
	Prefix string `json:"i"`
	SN     uint64 `json:"s"`
	SAID   string `json:"d"`
}

// NextKeysData is the pre-rotation commitment carried by every
// establishment event: the threshold and ordered digests that the *next*
// rotation must satisfy (spec §3.3).
type NextKeysData struct {
	Threshold Threshold `json:"nt"`
	Digests   []string  `json:"n"`
}

// Event is the envelope-wrapped key event. Fields are grouped by which
// variant(s) populate them.
type Event struct {
	// Common envelope (spec §3.2).
	VersionString string `json:"v"`
	Type          Type   `json:"t"`
	SAID          string `json:"d"`
	Prefix        string `json:"i"`
	SN            uint64 `json:"s"`

	// icp / dip: full key configuration.
	Keys          []string  `json:"k,omitempty"`
	KeyThreshold  Threshold `json:"kt,omitzero"`
	NextThreshold Threshold `json:"nt,omitzero"`
	NextDigests   []string  `json:"n,omitempty"`
	Witnesses     []string  `json:"b,omitempty"`
	WitnessThreshold int    `json:"bt,omitempty"`
	Config        []string  `json:"c,omitempty"`

	// rot / drt: new key configuration plus witness set deltas.
	PreviousDigest string   `json:"p,omitempty"`
	WitnessesCut   []string `json:"br,omitempty"`
	WitnessesAdd   []string `json:"ba,omitempty"`

	// ixn: only previous digest + anchored seals (no key change).

	// dip / drt: delegator identifier.
	Delegator string `json:"di,omitempty"`

	// icp / dip / ixn / rot / drt: anchored application seals.
	Seals []Seal `json:"a,omitempty"`
}

func (e *Event) SetVersionString(v string) { e.VersionString = v }
func (e *Event) SetSAID(d string)          { e.SAID = d }
func (e *Event) GetSAID() string           { return e.SAID }

// Next builds the NextKeysData this establishment event commits its
// successor rotation to.
func (e *Event) Next() NextKeysData {
	return NextKeysData{Threshold: e.NextThreshold, Digests: e.NextDigests}
}

// Receipt is the envelope-wrapped attestation that the signer has seen and
// accepted the event identified by (Prefix, SN, EventSAID).
type Receipt struct {
	VersionString string `json:"v"`
	Type          Type   `json:"t"`
	SAID          string `json:"d"`
	Prefix        string `json:"i"`
	SN            uint64 `json:"s"`
	EventSAID     string `json:"rd"`
}

func (r *Receipt) SetVersionString(v string) { r.VersionString = v }
func (r *Receipt) SetSAID(d string)          { r.SAID = d }
func (r *Receipt) GetSAID() string           { return r.SAID }
