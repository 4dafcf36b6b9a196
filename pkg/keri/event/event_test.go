// Copyright 2025 Certen Protocol

package event

import (
	"errors"
	"testing"

	"github.com/certen/keri-core/pkg/keri/envelope"
	"github.com/certen/keri-core/pkg/keri/kerierr"
)

func TestBuildInceptionSucceeds(t *testing.T) {
	in := InceptionInput{
		Keys:          []string{"Dkey0"},
		KeyThreshold:  SimpleThreshold(1),
		NextThreshold: SimpleThreshold(1),
		NextDigests:   []string{"Enext0"},
	}
	e, raw, err := BuildInception(in, DefaultParams())
	if err != nil {
		t.Fatalf("BuildInception: %v", err)
	}
	if e.Prefix != e.SAID {
		t.Fatalf("self-addressing inception prefix %q != SAID %q", e.Prefix, e.SAID)
	}
	ok, err := envelope.VerifySAID(e, DefaultParams().Format)
	if err != nil {
		t.Fatalf("VerifySAID: %v", err)
	}
	if !ok {
		t.Fatal("inception SAID failed to verify")
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty serialized bytes")
	}
}

func TestBuildInceptionRejectsEmptyKeys(t *testing.T) {
	_, _, err := BuildInception(InceptionInput{KeyThreshold: SimpleThreshold(1)}, DefaultParams())
	var ve *kerierr.ValidationError
	if !errors.As(err, &ve) || ve.Kind != kerierr.KindEventGeneration {
		t.Fatalf("expected EventGenerationError, got %v", err)
	}
}

func TestBuildInceptionRejectsUnsatisfiableThreshold(t *testing.T) {
	_, _, err := BuildInception(InceptionInput{
		Keys:         []string{"Dkey0"},
		KeyThreshold: SimpleThreshold(2),
	}, DefaultParams())
	var ve *kerierr.ValidationError
	if !errors.As(err, &ve) || ve.Kind != kerierr.KindEventGeneration {
		t.Fatalf("expected EventGenerationError, got %v", err)
	}
}

func TestBuildInceptionRejectsWitnessThresholdTooHigh(t *testing.T) {
	_, _, err := BuildInception(InceptionInput{
		Keys:             []string{"Dkey0"},
		KeyThreshold:     SimpleThreshold(1),
		Witnesses:        []string{"Bwit0"},
		WitnessThreshold: 2,
	}, DefaultParams())
	var ve *kerierr.ValidationError
	if !errors.As(err, &ve) || ve.Kind != kerierr.KindEventGeneration {
		t.Fatalf("expected EventGenerationError, got %v", err)
	}
}

func TestBuildRotationRoundTrip(t *testing.T) {
	icp, _, err := BuildInception(InceptionInput{
		Keys:          []string{"Dkey0"},
		KeyThreshold:  SimpleThreshold(1),
		NextThreshold: SimpleThreshold(1),
		NextDigests:   []string{"Enext0"},
	}, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	rot, _, err := BuildRotation(RotationInput{
		Prefix:         icp.Prefix,
		SN:             1,
		PreviousDigest: icp.SAID,
		Keys:           []string{"Dkey1"},
		KeyThreshold:   SimpleThreshold(1),
		NextThreshold:  SimpleThreshold(1),
		NextDigests:    []string{"Enext1"},
	}, DefaultParams())
	if err != nil {
		t.Fatalf("BuildRotation: %v", err)
	}
	ok, err := envelope.VerifySAID(rot, DefaultParams().Format)
	if err != nil || !ok {
		t.Fatalf("rotation SAID verify: ok=%v err=%v", ok, err)
	}
	if rot.PreviousDigest != icp.SAID {
		t.Fatalf("rotation previous digest mismatch")
	}
}

func TestThresholdSatisfies(t *testing.T) {
	simple := SimpleThreshold(2)
	if simple.Satisfies([]int{0}, 3) {
		t.Fatal("expected 1 signer to fail 2-of-3")
	}
	if !simple.Satisfies([]int{0, 2}, 3) {
		t.Fatal("expected 2 signers to satisfy 2-of-3")
	}
	if !simple.Satisfies([]int{0, 0, 2}, 3) {
		t.Fatal("duplicate indices should dedupe, still satisfy")
	}

	weighted := WeightedThreshold([]Fraction{{1, 2}, {1, 2}, {1, 2}})
	if weighted.Satisfies([]int{0}, 3) {
		t.Fatal("expected single 1/2 weight to fail")
	}
	if !weighted.Satisfies([]int{0, 1}, 3) {
		t.Fatal("expected two 1/2 weights to satisfy")
	}
}
