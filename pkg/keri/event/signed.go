// Copyright 2025 Certen Protocol
//
// Signed message envelopes: an Event or Receipt plus the CESR-attachment
// groups of spec §6.2, modeled as Go structs rather than parsed wire bytes
// (this module contains no streaming CESR tokenizer, which is out of the
// core's scope per spec §1).

package event

import "github.com/certen/keri-core/pkg/keri/said"

// SignedEvent is a key event plus its controller signatures (-AAA.. groups)
// and, for delegated variants, the delegator's anchoring seal reference
// (-GAB group) the submitter claims covers it.
type SignedEvent struct {
	Event *Event
	Sigs  []said.IndexedSignature

	// DelegatorSeal is populated for dip/drt submissions: the (prefix, sn)
	// the submitter expects the delegator's anchoring event seal at. The
	// validator requires it for delegated events (without it the event is
	// MissingDelegating) and looks up the seals of the delegator recorded in
	// state at this seal's SN; the seal's Prefix is not consulted.
	DelegatorSeal *Seal
}

// NonTransCouple is one (witness, signature) pair of a non-transferable
// receipt's -CAD attachment group.
type NonTransCouple struct {
	Witness said.BasicPrefix
	Sig     said.SelfSigningPrefix
}

// NonTransReceipt is a receipt signed by one or more non-transferable
// (witness) identifiers, either as explicit couples or as indexed
// signatures against the receipted event's witness list.
type NonTransReceipt struct {
	Receipt     *Receipt
	Couples     []NonTransCouple
	IndexedSigs []said.IndexedSignature
}

// TransReceipt is a receipt signed by a transferable identifier: the
// -FAB group carries the signer's establishment-event seal plus indexed
// signatures made with the keys authorized at that seal.
type TransReceipt struct {
	Receipt    *Receipt
	SignerSeal Seal
	Sigs       []said.IndexedSignature
}
