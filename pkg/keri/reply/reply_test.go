// Copyright 2025 Certen Protocol

package reply

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/certen/keri-core/pkg/keri/event"
	"github.com/certen/keri-core/pkg/keri/kerierr"
	"github.com/certen/keri-core/pkg/keri/notify"
	"github.com/certen/keri-core/pkg/keri/said"
	"github.com/certen/keri-core/pkg/keri/state"
)

func witnessKeyPair(t *testing.T) (said.BasicPrefix, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	return said.BasicPrefix{Code: said.CodeEd25519NonTransferable, Key: pub}, priv
}

func controllerKeyPair(t *testing.T) (said.BasicPrefix, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	return said.BasicPrefix{Code: said.CodeEd25519Transferable, Key: pub}, priv
}

type storedReply struct {
	sr  *SignedReply
	raw []byte
}

type fakeStore struct {
	byKey map[string]storedReply
}

func newFakeStore() *fakeStore { return &fakeStore{byKey: map[string]storedReply{}} }

func (s *fakeStore) Get(prefix, signer string) (*SignedReply, bool, error) {
	v, ok := s.byKey[prefix+"|"+signer]
	if !ok {
		return nil, false, nil
	}
	return v.sr, true, nil
}

func (s *fakeStore) Put(prefix, signer string, sr *SignedReply, raw []byte) error {
	s.byKey[prefix+"|"+signer] = storedReply{sr: sr, raw: raw}
	return nil
}

type fakeSigners struct {
	configs map[string]state.KeyConfig
}

func newFakeSigners() *fakeSigners { return &fakeSigners{configs: map[string]state.KeyConfig{}} }

func (f *fakeSigners) KeyConfigAt(prefix string, sn uint64, digest string) (state.KeyConfig, bool, error) {
	kc, ok := f.configs[prefix]
	return kc, ok, nil
}

func buildKSNAndSign(t *testing.T, prefix string, sn uint64, digest string, ts time.Time) (*KeyStateNotice, []byte) {
	t.Helper()
	ksn, raw, err := BuildKSN(prefix, sn, digest, ts, event.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	return ksn, raw
}

func TestReplyNonTransferableAccepted(t *testing.T) {
	store := newFakeStore()
	h := New(notify.New(), newFakeSigners(), store, time.Hour)

	wbp, wpriv := witnessKeyPair(t)
	ksn, raw := buildKSNAndSign(t, "Eidentifier", 1, "Edigest1", time.Unix(1000, 0).UTC())
	sig, err := said.Sign(said.CodeEd25519NonTransferable, wpriv, raw)
	if err != nil {
		t.Fatal(err)
	}
	sr := &SignedReply{KSN: ksn, SignerPrefix: wbp.String(), Sigs: []said.IndexedSignature{{Index: 0, Sig: sig}}}

	if err := h.Process(sr, raw); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
	stored, found, err := store.Get("Eidentifier", wbp.String())
	if err != nil || !found {
		t.Fatalf("expected stored reply, found=%v err=%v", found, err)
	}
	if stored.KSN.SAID != ksn.SAID {
		t.Fatalf("stored reply does not match accepted one")
	}
}

func TestReplyStaleIsRejected(t *testing.T) {
	store := newFakeStore()
	h := New(notify.New(), newFakeSigners(), store, time.Hour)

	wbp, wpriv := witnessKeyPair(t)

	newer, newerRaw := buildKSNAndSign(t, "Eidentifier", 2, "Edigest2", time.Unix(2000, 0).UTC())
	newerSig, err := said.Sign(said.CodeEd25519NonTransferable, wpriv, newerRaw)
	if err != nil {
		t.Fatal(err)
	}
	newerSR := &SignedReply{KSN: newer, SignerPrefix: wbp.String(), Sigs: []said.IndexedSignature{{Index: 0, Sig: newerSig}}}
	if err := h.Process(newerSR, newerRaw); err != nil {
		t.Fatal(err)
	}

	older, olderRaw := buildKSNAndSign(t, "Eidentifier", 1, "Edigest1", time.Unix(1000, 0).UTC())
	olderSig, err := said.Sign(said.CodeEd25519NonTransferable, wpriv, olderRaw)
	if err != nil {
		t.Fatal(err)
	}
	olderSR := &SignedReply{KSN: older, SignerPrefix: wbp.String(), Sigs: []said.IndexedSignature{{Index: 0, Sig: olderSig}}}

	err = h.Process(olderSR, olderRaw)
	if err == nil {
		t.Fatal("expected stale reply to be rejected")
	}
	if kind, _ := kerierr.KindOf(err); kind != kerierr.KindStaleKsn {
		t.Fatalf("expected KindStaleKsn, got %v", kind)
	}
	stored, _, _ := store.Get("Eidentifier", wbp.String())
	if stored.KSN.SAID != newer.SAID {
		t.Fatal("stale reply must not displace the accepted one")
	}
}

func TestReplyBadSignatureIsFatal(t *testing.T) {
	store := newFakeStore()
	h := New(notify.New(), newFakeSigners(), store, time.Hour)

	wbp, _ := witnessKeyPair(t)
	_, otherPriv := witnessKeyPair(t)
	ksn, raw := buildKSNAndSign(t, "Eidentifier", 1, "Edigest1", time.Unix(1000, 0).UTC())
	badSig, err := said.Sign(said.CodeEd25519NonTransferable, otherPriv, raw)
	if err != nil {
		t.Fatal(err)
	}
	sr := &SignedReply{KSN: ksn, SignerPrefix: wbp.String(), Sigs: []said.IndexedSignature{{Index: 0, Sig: badSig}}}

	err = h.Process(sr, raw)
	if kind, _ := kerierr.KindOf(err); kind != kerierr.KindSignatureVerification {
		t.Fatalf("expected KindSignatureVerification, got %v", err)
	}
	if h.Len() != 0 {
		t.Fatal("a bad signature must not be escrowed")
	}
}

func TestReplyTransferableEscrowedThenPromoted(t *testing.T) {
	store := newFakeStore()
	signers := newFakeSigners()
	bus := notify.New()
	h := New(bus, signers, store, time.Hour)

	cpub, cpriv := controllerKeyPair(t)
	ksn, raw := buildKSNAndSign(t, "Eidentifier", 1, "Edigest1", time.Unix(1000, 0).UTC())
	sig, err := said.Sign(said.CodeEd25519Transferable, cpriv, raw)
	if err != nil {
		t.Fatal(err)
	}
	sr := &SignedReply{
		KSN:          ksn,
		SignerPrefix: "watcher-1",
		SignerSeal:   event.Seal{Prefix: "watcher-1", SN: 0, SAID: "EwatcherIcp"},
		Sigs:         []said.IndexedSignature{{Index: 0, Sig: sig}},
	}

	err = h.Process(sr, raw)
	if kind, _ := kerierr.KindOf(err); kind != kerierr.KindEventOutOfOrder {
		t.Fatalf("expected escrow (KindEventOutOfOrder), got %v", err)
	}
	if h.Len() != 1 {
		t.Fatalf("expected 1 escrowed reply, got %d", h.Len())
	}

	signers.configs["watcher-1"] = state.KeyConfig{
		Threshold: event.SimpleThreshold(1),
		Keys:      []said.BasicPrefix{cpub},
	}
	bus.Publish(notify.Event{Tag: notify.KeyEventAdded, Prefix: "watcher-1", SN: 0, SAID: "EwatcherIcp"})

	if h.Len() != 0 {
		t.Fatalf("expected promotion to clear escrow, got depth %d", h.Len())
	}
	stored, found, err := store.Get("Eidentifier", "watcher-1")
	if err != nil || !found {
		t.Fatalf("expected stored reply after promotion, found=%v err=%v", found, err)
	}
	if stored.KSN.SAID != ksn.SAID {
		t.Fatal("promoted reply does not match escrowed one")
	}
}

func TestHandleReplyWireRoundTrip(t *testing.T) {
	store := newFakeStore()
	h := New(notify.New(), newFakeSigners(), store, time.Hour)

	wbp, wpriv := witnessKeyPair(t)
	ksn, ksnRaw, err := BuildKSN("Eidentifier", 1, "Edigest1", time.Unix(1000, 0).UTC(), event.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	sig, err := said.Sign(said.CodeEd25519NonTransferable, wpriv, ksnRaw)
	if err != nil {
		t.Fatal(err)
	}
	sr := &SignedReply{KSN: ksn, SignerPrefix: wbp.String(), Sigs: []said.IndexedSignature{{Index: 0, Sig: sig}}}

	wire, err := MarshalWire(sr)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.HandleReply(wire); err != nil {
		t.Fatalf("expected wire reply accepted, got %v", err)
	}
	if _, found, _ := store.Get("Eidentifier", wbp.String()); !found {
		t.Fatal("expected reply stored after HandleReply")
	}
}
