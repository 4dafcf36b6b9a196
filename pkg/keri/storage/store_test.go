// Copyright 2025 Certen Protocol

package storage

import (
	"crypto/ed25519"
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/keri-core/pkg/keri/event"
	"github.com/certen/keri-core/pkg/keri/reply"
	"github.com/certen/keri-core/pkg/keri/said"
	"github.com/certen/keri-core/pkg/keri/state"
)

type memKV struct {
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(key []byte) ([]byte, error) { return m.data[string(key)], nil }
func (m *memKV) Set(key, value []byte) error {
	m.data[string(key)] = append([]byte{}, value...)
	return nil
}
func (m *memKV) Delete(key []byte) error {
	delete(m.data, string(key))
	return nil
}
func (m *memKV) Iterator(start, end []byte) (dbm.Iterator, error) { return nil, nil }

func keyPair(t *testing.T) (said.BasicPrefix, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	return said.BasicPrefix{Code: said.CodeEd25519Transferable, Key: pub}, priv
}

func sign(t *testing.T, priv ed25519.PrivateKey, raw []byte, index int) said.IndexedSignature {
	t.Helper()
	sig, err := said.Sign(said.CodeEd25519Transferable, priv, raw)
	if err != nil {
		t.Fatal(err)
	}
	return said.IndexedSignature{Index: index, Sig: sig}
}

func TestStoreAppendAndState(t *testing.T) {
	s := New(newMemKV())
	k0pub, k0priv := keyPair(t)
	nextPub, _ := keyPair(t)
	nextDigest, _ := said.Hash(said.CodeSHA256, []byte(nextPub.String()))

	icp, raw, err := event.BuildInception(event.InceptionInput{
		Keys:          []string{k0pub.String()},
		KeyThreshold:  event.SimpleThreshold(1),
		NextThreshold: event.SimpleThreshold(1),
		NextDigests:   []string{nextDigest},
	}, event.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	se := &event.SignedEvent{Event: icp, Sigs: []said.IndexedSignature{sign(t, k0priv, raw, 0)}}

	if err := s.Append(icp.Prefix, 0, se, raw); err != nil {
		t.Fatal(err)
	}
	st, err := s.State(icp.Prefix)
	if err != nil {
		t.Fatal(err)
	}
	if st.SN != 0 || st.LastEventDigest != icp.SAID {
		t.Fatalf("unexpected state after append: %+v", st)
	}

	saidStr, gotRaw, found, err := s.AcceptedAt(icp.Prefix, 0)
	if err != nil || !found || saidStr != icp.SAID || string(gotRaw) != string(raw) {
		t.Fatalf("AcceptedAt mismatch: said=%s found=%v err=%v", saidStr, found, err)
	}

	gotRaw2, err := s.RawAt(icp.Prefix, 0, icp.SAID)
	if err != nil || string(gotRaw2) != string(raw) {
		t.Fatalf("RawAt mismatch: err=%v", err)
	}

	kc, found, err := s.KeyConfigAt(icp.Prefix, 0, icp.SAID)
	if err != nil || !found {
		t.Fatalf("KeyConfigAt not found: err=%v", err)
	}
	if len(kc.Keys) != 1 || kc.Keys[0].String() != k0pub.String() {
		t.Fatalf("unexpected key config: %+v", kc)
	}
}

func TestStoreWitnessSigsUnion(t *testing.T) {
	s := New(newMemKV())
	w1, _ := keyPair(t)
	w2, _ := keyPair(t)

	if err := s.AppendWitnessSigs("Eprefix", 0, "Edigest", []state.WitnessSig{{Witness: w1}}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendWitnessSigs("Eprefix", 0, "Edigest", []state.WitnessSig{{Witness: w1}, {Witness: w2}}); err != nil {
		t.Fatal(err)
	}
	sigs, err := s.WitnessSigsFor("Eprefix", 0, "Edigest")
	if err != nil {
		t.Fatal(err)
	}
	if len(sigs) != 2 {
		t.Fatalf("expected union of 2 distinct witnesses, got %d", len(sigs))
	}
}

func TestStoreRecordDuplicitousDoesNotOverwriteAccepted(t *testing.T) {
	s := New(newMemKV())
	k0pub, k0priv := keyPair(t)
	nextPub, _ := keyPair(t)
	nextDigest, _ := said.Hash(said.CodeSHA256, []byte(nextPub.String()))

	icp, raw, err := event.BuildInception(event.InceptionInput{
		Keys:          []string{k0pub.String()},
		KeyThreshold:  event.SimpleThreshold(1),
		NextThreshold: event.SimpleThreshold(1),
		NextDigests:   []string{nextDigest},
	}, event.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	se := &event.SignedEvent{Event: icp, Sigs: []said.IndexedSignature{sign(t, k0priv, raw, 0)}}
	if err := s.Append(icp.Prefix, 0, se, raw); err != nil {
		t.Fatal(err)
	}

	forkedSE := &event.SignedEvent{Event: icp, Sigs: se.Sigs}
	if err := s.RecordDuplicitous(icp.Prefix, 0, forkedSE, []byte("forked-raw")); err != nil {
		t.Fatal(err)
	}

	saidStr, gotRaw, found, err := s.AcceptedAt(icp.Prefix, 0)
	if err != nil || !found || saidStr != icp.SAID || string(gotRaw) != string(raw) {
		t.Fatalf("accepted entry must be untouched by RecordDuplicitous: %s %v %v", saidStr, found, err)
	}
}

func TestStoreReplyRoundTrip(t *testing.T) {
	s := New(newMemKV())
	ksn := &reply.KeyStateNotice{SAID: "Eksn", Prefix: "Eidentifier", SN: 1, EventDigest: "Edigest"}
	sr := &reply.SignedReply{KSN: ksn, SignerPrefix: "BsignerPrefix"}

	if err := s.Put("Eidentifier", "BsignerPrefix", sr, []byte("raw")); err != nil {
		t.Fatal(err)
	}
	got, found, err := s.Get("Eidentifier", "BsignerPrefix")
	if err != nil || !found {
		t.Fatalf("expected stored reply, found=%v err=%v", found, err)
	}
	if got.KSN.SAID != ksn.SAID {
		t.Fatalf("round-tripped reply does not match: %+v", got)
	}
}
