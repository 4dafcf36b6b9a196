// Copyright 2025 Certen Protocol
//
// Package reply implements key-state-notice replies and the
// Best-Available-Data-Acceptance ordering rule of spec §4.7. A reply is a
// watcher's or witness's signed assertion about some identifier's state; two
// replies from the same signer about the same identifier are ordered by
// BADA rather than by sn, since a reply itself carries no chained sn of its
// own the way a key event does.
//
// The escrow/retry shape here is grounded on the TransReceiptsEscrow
// (pkg/keri/escrow/trans_receipts.go): both hold a message from a signer
// whose own establishment event isn't known yet, and both retry every
// escrowed entry on every KeyEventAdded rather than filtering to one
// prefix, since any new establishment event might be the one that resolves
// an escrowed signer.
package reply

import (
	"sync"
	"time"

	"github.com/certen/keri-core/pkg/keri/event"
	"github.com/certen/keri-core/pkg/keri/kerierr"
	"github.com/certen/keri-core/pkg/keri/notify"
	"github.com/certen/keri-core/pkg/keri/said"
	"github.com/certen/keri-core/pkg/keri/state"
)

// KeyStateNotice is the envelope-wrapped key-state summary a reply carries.
// Prefix/SN/EventDigest identify the (identifier, sn, digest) the signer is
// attesting to; Timestamp is the BADA tiebreaker of spec §4.7.
type KeyStateNotice struct {
	VersionString string    `json:"v"`
	Route         string    `json:"r,omitempty"`
	SAID          string    `json:"d"`
	Prefix        string    `json:"i"`
	SN            uint64    `json:"s"`
	EventDigest   string    `json:"ed"`
	Timestamp     time.Time `json:"dt"`
}

func (k *KeyStateNotice) SetVersionString(v string) { k.VersionString = v }
func (k *KeyStateNotice) SetSAID(d string)           { k.SAID = d }
func (k *KeyStateNotice) GetSAID() string            { return k.SAID }

// SignedReply is a KeyStateNotice plus its signer attachment. SignerPrefix
// identifies who signed: either a witness/watcher's raw public-key prefix
// (non-transferable — the prefix itself verifies the signature) or a full
// KERI identifier with its own KEL (transferable — the attached signatures
// are verified against the key configuration at SignerSeal). SignerSeal is
// meaningful only in the transferable case; BADA compares on its SN.
type SignedReply struct {
	KSN          *KeyStateNotice
	SignerPrefix string
	SignerSeal   event.Seal
	Sigs         []said.IndexedSignature
}

// nonTransferableSigner reports whether prefix names a non-transferable
// (witness/watcher) signer, returning its parsed key.
func nonTransferableSigner(prefix string) (said.BasicPrefix, bool) {
	bp, err := said.ParseBasicPrefix(prefix)
	if err != nil || !bp.NonTransferable() {
		return said.BasicPrefix{}, false
	}
	return bp, true
}

// verifyAgainst reports whether sigs, verified against kc, satisfy kc's
// threshold. Out-of-range indices and cryptographically invalid signatures
// are ignored rather than treated as errors, mirroring
// TransReceiptsEscrow.attemptOne.
func verifyAgainst(kc state.KeyConfig, raw []byte, sigs []said.IndexedSignature) bool {
	var indices []int
	for _, s := range sigs {
		if s.Index < 0 || s.Index >= len(kc.Keys) {
			continue
		}
		if said.VerifySignature(kc.Keys[s.Index], s.Sig, raw) {
			indices = append(indices, s.Index)
		}
	}
	return kc.Threshold.Satisfies(indices, len(kc.Keys))
}

// supersedes reports whether candidate displaces current under BADA (spec
// §4.7): transferable signers compare on establishment sn first, timestamp
// only to break a tie; non-transferable signers compare on timestamp alone.
// Equal timestamps do not supersede — BADA requires a strictly later reply
// to win, so a true tie is left as-is rather than arbitrarily replaced.
func supersedes(candidate, current *SignedReply) bool {
	if current == nil {
		return true
	}
	if _, ok := nonTransferableSigner(candidate.SignerPrefix); ok {
		return candidate.KSN.Timestamp.After(current.KSN.Timestamp)
	}
	if candidate.SignerSeal.SN != current.SignerSeal.SN {
		return candidate.SignerSeal.SN > current.SignerSeal.SN
	}
	return candidate.KSN.Timestamp.After(current.KSN.Timestamp)
}

// SignerStateLookup resolves a transferable signer's key configuration at
// its own establishment seal. Implemented by whatever owns the signer's
// KEL — typically the same collaborator that backs processor.Log.
type SignerStateLookup interface {
	KeyConfigAt(signerPrefix string, sn uint64, digest string) (state.KeyConfig, bool, error)
}

// Store persists the latest accepted reply per (receipted identifier,
// signer) — spec §6.3's accepted-replies table.
type Store interface {
	Get(prefix, signerPrefix string) (*SignedReply, bool, error)
	Put(prefix, signerPrefix string, sr *SignedReply, raw []byte) error
}

type escrowKey struct {
	prefix string
	signer string
}

type escrowEntry struct {
	sr        *SignedReply
	raw       []byte
	timestamp time.Time
}

// Handler processes reply messages under BADA, escrowing replies from a
// transferable signer whose establishment event isn't yet known and
// retrying them on every KeyEventAdded (spec §4.7: "escrowed and retried on
// each KeyEventAdded whose sn >= reply.sn" — interpreted here as the
// signer's own sn, since that is what gates verification).
type Handler struct {
	mu      sync.Mutex
	entries map[escrowKey]escrowEntry
	window  time.Duration

	signers SignerStateLookup
	store   Store
}

// New constructs a Handler and subscribes its escrow retry to bus.
func New(bus *notify.Bus, signers SignerStateLookup, store Store, window time.Duration) *Handler {
	h := &Handler{
		entries: make(map[escrowKey]escrowEntry),
		window:  window,
		signers: signers,
		store:   store,
	}
	bus.Subscribe(notify.KeyEventAdded, func(notify.Event) { h.retryAll() })
	return h
}

// Process verifies sr's signature and, if it verifies, applies BADA against
// the currently accepted reply for (sr.KSN.Prefix, sr.SignerPrefix). raw
// must be the exact bytes the signature was made over (the KSN's canonical
// serialization, not any outer wire wrapper).
func (h *Handler) Process(sr *SignedReply, raw []byte) error {
	if bp, ok := nonTransferableSigner(sr.SignerPrefix); ok {
		if len(sr.Sigs) != 1 {
			return kerierr.New(kerierr.KindSignatureVerification, "non-transferable reply signer must carry exactly one signature")
		}
		if !said.VerifySignature(bp, sr.Sigs[0].Sig, raw) {
			return kerierr.New(kerierr.KindSignatureVerification, "reply signature does not verify against non-transferable signer %s", sr.SignerPrefix)
		}
		return h.acceptOrStale(sr, raw)
	}

	kc, found, err := h.signers.KeyConfigAt(sr.SignerSeal.Prefix, sr.SignerSeal.SN, sr.SignerSeal.SAID)
	if err != nil {
		return kerierr.Wrap(kerierr.KindEventOutOfOrder, err, "resolve reply signer state")
	}
	if !found {
		h.escrow(sr, raw)
		return kerierr.New(kerierr.KindEventOutOfOrder, "reply signer %s establishment at sn %d not yet known", sr.SignerSeal.Prefix, sr.SignerSeal.SN)
	}
	if !verifyAgainst(kc, raw, sr.Sigs) {
		return kerierr.New(kerierr.KindSignatureVerification, "reply signature does not satisfy signer's key configuration")
	}
	return h.acceptOrStale(sr, raw)
}

func (h *Handler) acceptOrStale(sr *SignedReply, raw []byte) error {
	current, found, err := h.store.Get(sr.KSN.Prefix, sr.SignerPrefix)
	if err != nil {
		return kerierr.Wrap(kerierr.KindStaleKsn, err, "look up currently accepted reply")
	}
	if found && !supersedes(sr, current) {
		return kerierr.New(kerierr.KindStaleKsn, "reply from %s for %s is not newer under BADA than the accepted one", sr.SignerPrefix, sr.KSN.Prefix)
	}
	if err := h.store.Put(sr.KSN.Prefix, sr.SignerPrefix, sr, raw); err != nil {
		return err
	}
	return nil
}

func (h *Handler) escrow(sr *SignedReply, raw []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[escrowKey{prefix: sr.KSN.Prefix, signer: sr.SignerPrefix}] = escrowEntry{sr: sr, raw: raw, timestamp: time.Now()}
}

func (h *Handler) retryAll() {
	h.mu.Lock()
	now := time.Now()
	keys := make([]escrowKey, 0, len(h.entries))
	for k, e := range h.entries {
		if now.Sub(e.timestamp) > h.window {
			delete(h.entries, k)
			continue
		}
		keys = append(keys, k)
	}
	h.mu.Unlock()

	for _, k := range keys {
		h.retryOne(k)
	}
}

func (h *Handler) retryOne(k escrowKey) {
	h.mu.Lock()
	e, ok := h.entries[k]
	h.mu.Unlock()
	if !ok {
		return
	}

	kc, found, err := h.signers.KeyConfigAt(e.sr.SignerSeal.Prefix, e.sr.SignerSeal.SN, e.sr.SignerSeal.SAID)
	if err != nil || !found {
		return // still unresolved; stays escrowed until the next trigger
	}

	h.mu.Lock()
	delete(h.entries, k)
	h.mu.Unlock()

	if !verifyAgainst(kc, e.raw, e.sr.Sigs) {
		return // now resolvable, but the signature was never valid: drop
	}
	_ = h.acceptOrStale(e.sr, e.raw)
}

// Len reports the number of escrowed entries, for metrics and tests.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
