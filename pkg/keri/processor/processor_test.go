// Copyright 2025 Certen Protocol

package processor

import (
	"crypto/ed25519"
	"testing"

	"github.com/certen/keri-core/pkg/keri/escrow"
	"github.com/certen/keri-core/pkg/keri/event"
	"github.com/certen/keri-core/pkg/keri/notify"
	"github.com/certen/keri-core/pkg/keri/said"
	"github.com/certen/keri-core/pkg/keri/state"
)

type logEntry struct {
	sn  uint64
	se  *event.SignedEvent
	raw []byte
}

type fakeLog struct {
	states map[string]state.IdentifierState
	events map[string][]logEntry // prefix -> entries in sn order
}

func newFakeLog() *fakeLog {
	return &fakeLog{states: map[string]state.IdentifierState{}, events: map[string][]logEntry{}}
}

func (l *fakeLog) State(prefix string) (state.IdentifierState, error) { return l.states[prefix], nil }

func (l *fakeLog) Append(prefix string, sn uint64, se *event.SignedEvent, raw []byte) error {
	ns, err := deriveNextState(l.states[prefix], se)
	if err != nil {
		return err
	}
	l.states[prefix] = ns
	l.events[prefix] = append(l.events[prefix], logEntry{sn: sn, se: se, raw: raw})
	return nil
}

func (l *fakeLog) AcceptedAt(prefix string, sn uint64) (string, []byte, bool, error) {
	for _, e := range l.events[prefix] {
		if e.sn == sn {
			return e.se.Event.SAID, e.raw, true, nil
		}
	}
	return "", nil, false, nil
}

func (l *fakeLog) RawAt(prefix string, sn uint64, digest string) ([]byte, error) {
	for _, e := range l.events[prefix] {
		if e.sn == sn && e.se.Event.SAID == digest {
			return e.raw, nil
		}
	}
	return nil, nil
}

func (l *fakeLog) SealsAt(delegatorPrefix string, sn uint64) ([]event.Seal, bool, error) {
	return nil, false, nil
}

func (l *fakeLog) KeyConfigAt(prefix string, sn uint64, digest string) (state.KeyConfig, bool, error) {
	return state.KeyConfig{}, false, nil
}

// deriveNextState mirrors what a real Append's caller already validated;
// the fake just needs to track SN/LastEventDigest for the duplicate checks
// above, so it recomputes the minimal bits from the signed event directly
// rather than re-running the validator.
func deriveNextState(prior state.IdentifierState, se *event.SignedEvent) (state.IdentifierState, error) {
	e := se.Event
	ns := prior
	ns.Prefix = e.Prefix
	ns.SN = e.SN
	ns.LastEventDigest = e.SAID
	ns.LastEventType = e.Type
	if e.Type.IsInceptive() || e.Type.IsEstablishment() {
		keys := make([]said.BasicPrefix, 0, len(e.Keys))
		for _, k := range e.Keys {
			bp, err := said.ParseBasicPrefix(k)
			if err != nil {
				return state.IdentifierState{}, err
			}
			keys = append(keys, bp)
		}
		ns.Current = state.KeyConfig{Threshold: e.KeyThreshold, Keys: keys, Next: e.Next()}
	}
	return ns, nil
}

type fakeReceipts struct{}

func (fakeReceipts) WitnessSigsFor(prefix string, sn uint64, digest string) ([]state.WitnessSig, error) {
	return nil, nil
}
func (fakeReceipts) AppendWitnessSigs(prefix string, sn uint64, digest string, sigs []state.WitnessSig) error {
	return nil
}
func (fakeReceipts) AppendTransReceipt(r *event.TransReceipt) error { return nil }

type fakeDup struct {
	recorded []logEntry
}

func (d *fakeDup) RecordDuplicitous(prefix string, sn uint64, se *event.SignedEvent, raw []byte) error {
	d.recorded = append(d.recorded, logEntry{sn: sn, se: se, raw: raw})
	return nil
}

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

func newTestProcessor() (*Processor, *fakeLog, *fakeDup) {
	l := newFakeLog()
	dup := &fakeDup{}
	bus := notify.New()
	p := New(bus, Config{
		Log:         l,
		Receipts:    fakeReceipts{},
		Duplicitous: dup,
		HashCode:    said.CodeSHA256,
		Windows:     escrow.Windows{},
	})
	return p, l, dup
}

func TestProcessKeyEventAcceptsInception(t *testing.T) {
	p, l, _ := newTestProcessor()
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

	if err := p.ProcessKeyEvent(se, raw); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
	if l.states[icp.Prefix].SN != 0 {
		t.Fatalf("expected sn=0 committed, got %d", l.states[icp.Prefix].SN)
	}
}

func TestProcessKeyEventDuplicateIsIgnored(t *testing.T) {
	p, _, dup := newTestProcessor()
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

	if err := p.ProcessKeyEvent(se, raw); err != nil {
		t.Fatal(err)
	}
	if err := p.ProcessKeyEvent(se, raw); err != nil {
		t.Fatalf("resubmitting the same event should be a silent no-op, got %v", err)
	}
	if len(dup.recorded) != 0 {
		t.Fatalf("expected no duplicitous records, got %d", len(dup.recorded))
	}
}

func TestProcessKeyEventDuplicitousIsRecorded(t *testing.T) {
	p, _, dup := newTestProcessor()
	k0pub, k0priv := keyPair(t)
	nextPub, _ := keyPair(t)
	nextDigest, _ := said.Hash(said.CodeSHA256, []byte(nextPub.String()))

	icp, icpRaw, err := event.BuildInception(event.InceptionInput{
		Keys:          []string{k0pub.String()},
		KeyThreshold:  event.SimpleThreshold(1),
		NextThreshold: event.SimpleThreshold(1),
		NextDigests:   []string{nextDigest},
	}, event.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	icpSE := &event.SignedEvent{Event: icp, Sigs: []said.IndexedSignature{sign(t, k0priv, icpRaw, 0)}}
	if err := p.ProcessKeyEvent(icpSE, icpRaw); err != nil {
		t.Fatal(err)
	}

	ixn1, raw1, err := event.BuildInteraction(event.InteractionInput{
		Prefix: icp.Prefix, SN: 1, PreviousDigest: icp.SAID,
	}, event.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	se1 := &event.SignedEvent{Event: ixn1, Sigs: []said.IndexedSignature{sign(t, k0priv, raw1, 0)}}
	if err := p.ProcessKeyEvent(se1, raw1); err != nil {
		t.Fatal(err)
	}

	// A second, differently-anchored interaction event also at sn=1 is a
	// fork: same (prefix, sn), different SAID than what was accepted.
	forkIxn1, forkRaw1, err := event.BuildInteraction(event.InteractionInput{
		Prefix: icp.Prefix, SN: 1, PreviousDigest: icp.SAID,
		Seals: []event.Seal{{Prefix: "fork", SN: 0, SAID: "fork"}},
	}, event.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	forkSE := &event.SignedEvent{Event: forkIxn1, Sigs: []said.IndexedSignature{sign(t, k0priv, forkRaw1, 0)}}

	err = p.ProcessKeyEvent(forkSE, forkRaw1)
	if err == nil {
		t.Fatal("expected duplicitous event to be rejected")
	}
	if len(dup.recorded) != 1 {
		t.Fatalf("expected 1 duplicitous record, got %d", len(dup.recorded))
	}
}

func TestProcessKeyEventEscrowsOutOfOrder(t *testing.T) {
	p, l, _ := newTestProcessor()
	k0pub, k0priv := keyPair(t)
	nextPub, _ := keyPair(t)
	nextDigest, _ := said.Hash(said.CodeSHA256, []byte(nextPub.String()))

	icp, icpRaw, err := event.BuildInception(event.InceptionInput{
		Keys:          []string{k0pub.String()},
		KeyThreshold:  event.SimpleThreshold(1),
		NextThreshold: event.SimpleThreshold(1),
		NextDigests:   []string{nextDigest},
	}, event.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	icpSE := &event.SignedEvent{Event: icp, Sigs: []said.IndexedSignature{sign(t, k0priv, icpRaw, 0)}}
	if err := p.ProcessKeyEvent(icpSE, icpRaw); err != nil {
		t.Fatal(err)
	}

	ixn2, raw2, err := event.BuildInteraction(event.InteractionInput{
		Prefix: icp.Prefix, SN: 2, PreviousDigest: icp.SAID,
	}, event.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	se2 := &event.SignedEvent{Event: ixn2, Sigs: []said.IndexedSignature{sign(t, k0priv, raw2, 0)}}

	if err := p.ProcessKeyEvent(se2, raw2); err == nil {
		t.Fatal("expected sn=2 to be rejected as out of order")
	}
	if p.Escrows().OutOfOrder.Len() != 1 {
		t.Fatalf("expected sn=2 escrowed, got depth %d", p.Escrows().OutOfOrder.Len())
	}
	if l.states[icp.Prefix].SN != 0 {
		t.Fatalf("state should remain at sn=0, got %d", l.states[icp.Prefix].SN)
	}
}
