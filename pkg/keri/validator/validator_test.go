// Copyright 2025 Certen Protocol

package validator

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/certen/keri-core/pkg/keri/event"
	"github.com/certen/keri-core/pkg/keri/kerierr"
	"github.com/certen/keri-core/pkg/keri/said"
	"github.com/certen/keri-core/pkg/keri/state"
)

type fakeDelegators struct {
	seals map[string][]event.Seal
}

func (f fakeDelegators) SealsAt(prefix string, sn uint64) ([]event.Seal, bool, error) {
	seals, ok := f.seals[prefix]
	return seals, ok, nil
}

type fakeReceipts struct {
	sigs map[string][]state.WitnessSig
}

func (f fakeReceipts) WitnessSigsFor(prefix string, sn uint64, digest string) ([]state.WitnessSig, error) {
	return f.sigs[prefix+digest], nil
}

func noReceiptDeps() Deps {
	return Deps{
		Delegators: fakeDelegators{seals: map[string][]event.Seal{}},
		Receipts:   fakeReceipts{sigs: map[string][]state.WitnessSig{}},
		HashCode:   said.CodeSHA256,
	}
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

// S1: inception + rotation.
func TestScenarioS1InceptionThenRotation(t *testing.T) {
	k0pub, k0priv := keyPair(t)
	k1pub, k1priv := keyPair(t)
	nextDigest1, err := said.Hash(said.CodeSHA256, []byte(k1pub.String()))
	if err != nil {
		t.Fatal(err)
	}

	icp, icpRaw, err := event.BuildInception(event.InceptionInput{
		Keys:          []string{k0pub.String()},
		KeyThreshold:  event.SimpleThreshold(1),
		NextThreshold: event.SimpleThreshold(1),
		NextDigests:   []string{nextDigest1},
	}, event.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}

	se := &event.SignedEvent{Event: icp, Sigs: []said.IndexedSignature{sign(t, k0priv, icpRaw, 0)}}
	ns, err := Validate(state.IdentifierState{}, se, icpRaw, noReceiptDeps())
	if err != nil {
		t.Fatalf("inception validate: %v", err)
	}
	if ns.SN != 0 || ns.Prefix != icp.Prefix {
		t.Fatalf("unexpected inception state: %+v", ns)
	}

	k2pub, _ := keyPair(t)
	nextDigest2, _ := said.Hash(said.CodeSHA256, []byte(k2pub.String()))
	rot, rotRaw, err := event.BuildRotation(event.RotationInput{
		Prefix:         ns.Prefix,
		SN:             1,
		PreviousDigest: ns.LastEventDigest,
		Keys:           []string{k1pub.String()},
		KeyThreshold:   event.SimpleThreshold(1),
		NextThreshold:  event.SimpleThreshold(1),
		NextDigests:    []string{nextDigest2},
	}, event.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}

	seRot := &event.SignedEvent{Event: rot, Sigs: []said.IndexedSignature{sign(t, k1priv, rotRaw, 0)}}
	ns2, err := Validate(ns, seRot, rotRaw, noReceiptDeps())
	if err != nil {
		t.Fatalf("rotation validate: %v", err)
	}
	if ns2.SN != 1 || len(ns2.Current.Keys) != 1 || ns2.Current.Keys[0].String() != k1pub.String() {
		t.Fatalf("unexpected rotation state: %+v", ns2)
	}
}

// S3: pre-rotation violation.
func TestScenarioS3PreRotationMismatch(t *testing.T) {
	k0pub, k0priv := keyPair(t)
	k1pub, _ := keyPair(t)
	nextDigest1, _ := said.Hash(said.CodeSHA256, []byte(k1pub.String()))

	icp, icpRaw, err := event.BuildInception(event.InceptionInput{
		Keys:          []string{k0pub.String()},
		KeyThreshold:  event.SimpleThreshold(1),
		NextThreshold: event.SimpleThreshold(1),
		NextDigests:   []string{nextDigest1},
	}, event.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	se := &event.SignedEvent{Event: icp, Sigs: []said.IndexedSignature{sign(t, k0priv, icpRaw, 0)}}
	ns, err := Validate(state.IdentifierState{}, se, icpRaw, noReceiptDeps())
	if err != nil {
		t.Fatal(err)
	}

	wrongKeyPub, _ := keyPair(t) // K' whose hash is NOT H1
	rot, rotRaw, err := event.BuildRotation(event.RotationInput{
		Prefix:         ns.Prefix,
		SN:             1,
		PreviousDigest: ns.LastEventDigest,
		Keys:           []string{wrongKeyPub.String()},
		KeyThreshold:   event.SimpleThreshold(1),
		NextThreshold:  event.SimpleThreshold(1),
		NextDigests:    []string{nextDigest1},
	}, event.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	seRot := &event.SignedEvent{Event: rot, Sigs: []said.IndexedSignature{sign(t, k0priv, rotRaw, 0)}}
	_, err = Validate(ns, seRot, rotRaw, noReceiptDeps())
	var ve *kerierr.ValidationError
	if !errors.As(err, &ve) || ve.Kind != kerierr.KindPreRotationMismatch {
		t.Fatalf("expected PreRotationMismatch, got %v", err)
	}
}

// S4: threshold 2-of-3 at inception, then a rotation into the committed
// next key that satisfies pre-rotation and the new 1-of-1 threshold.
func TestScenarioS4ThresholdTwoOfThree(t *testing.T) {
	k0pub, k0priv := keyPair(t)
	k1pub, k1priv := keyPair(t)
	k2pub, _ := keyPair(t)

	nextPub, nextPriv := keyPair(t)
	nextDigest, _ := said.Hash(said.CodeSHA256, []byte(nextPub.String()))

	icp, icpRaw, err := event.BuildInception(event.InceptionInput{
		Keys:          []string{k0pub.String(), k1pub.String(), k2pub.String()},
		KeyThreshold:  event.SimpleThreshold(2),
		NextThreshold: event.SimpleThreshold(1),
		NextDigests:   []string{nextDigest},
	}, event.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	se := &event.SignedEvent{Event: icp, Sigs: []said.IndexedSignature{
		sign(t, k0priv, icpRaw, 0), sign(t, k1priv, icpRaw, 1),
	}}
	ns, err := Validate(state.IdentifierState{}, se, icpRaw, noReceiptDeps())
	if err != nil {
		t.Fatal(err)
	}

	next2Pub, _ := keyPair(t)
	next2Digest, _ := said.Hash(said.CodeSHA256, []byte(next2Pub.String()))
	rot, rotRaw, err := event.BuildRotation(event.RotationInput{
		Prefix:         ns.Prefix,
		SN:             1,
		PreviousDigest: ns.LastEventDigest,
		Keys:           []string{nextPub.String()},
		KeyThreshold:   event.SimpleThreshold(1),
		NextThreshold:  event.SimpleThreshold(1),
		NextDigests:    []string{next2Digest},
	}, event.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	se2 := &event.SignedEvent{Event: rot, Sigs: []said.IndexedSignature{sign(t, nextPriv, rotRaw, 0)}}
	if _, err := Validate(ns, se2, rotRaw, noReceiptDeps()); err != nil {
		t.Fatalf("expected rotation into the committed next key to satisfy pre-rotation and the 1-of-1 new threshold, got %v", err)
	}
}
