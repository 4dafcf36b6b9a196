// Copyright 2025 Certen Protocol

package reply

import (
	"fmt"
	"time"

	"github.com/certen/keri-core/pkg/keri/envelope"
	"github.com/certen/keri-core/pkg/keri/event"
	"github.com/certen/keri-core/pkg/keri/kerierr"
	"github.com/certen/keri-core/pkg/keri/said"
)

// wireReply is the on-wire shape HandleReply accepts: a key-state notice
// plus its single signer attachment. Unlike event.SignedEvent, which the
// shell assembles from separately-parsed CESR groups, a reply carries
// exactly one signer, so the attachment is modeled as plain JSON fields on
// the same envelope rather than split across group types.
type wireReply struct {
	KSN          *KeyStateNotice         `json:"ksn"`
	SignerPrefix string                  `json:"signer"`
	SignerSeal   event.Seal              `json:"signerSeal,omitempty"`
	Sigs         []said.IndexedSignature `json:"sigs"`
}

// HandleReply implements processor.ReplyHandler: it decodes raw, verifies
// the key-state notice's SAID binds its envelope, and runs Process.
func (h *Handler) HandleReply(raw []byte) error {
	var w wireReply
	if err := envelope.Unmarshal(envelope.FormatJSON, raw, &w); err != nil {
		return kerierr.Wrap(kerierr.KindIncorrectDigest, err, "decode reply envelope")
	}
	if w.KSN == nil {
		return kerierr.New(kerierr.KindIncorrectDigest, "reply missing key-state notice")
	}
	ok, err := envelope.VerifySAID(w.KSN, envelope.FormatJSON)
	if err != nil {
		return kerierr.Wrap(kerierr.KindIncorrectDigest, err, "verify key-state notice SAID")
	}
	if !ok {
		return kerierr.New(kerierr.KindIncorrectDigest, "key-state notice SAID does not bind its envelope")
	}
	ksnRaw, err := envelope.Marshal(envelope.FormatJSON, w.KSN)
	if err != nil {
		return kerierr.Wrap(kerierr.KindIncorrectDigest, err, "re-marshal key-state notice")
	}

	sr := &SignedReply{KSN: w.KSN, SignerPrefix: w.SignerPrefix, SignerSeal: w.SignerSeal, Sigs: w.Sigs}
	return h.Process(sr, ksnRaw)
}

// BuildKSN constructs and SAID-derives a key-state notice, mirroring
// event.BuildReceipt's shape for the reply family.
func BuildKSN(prefix string, sn uint64, eventDigest string, timestamp time.Time, p event.Params) (*KeyStateNotice, []byte, error) {
	k := &KeyStateNotice{
		Route:       "/ksn",
		Prefix:      prefix,
		SN:          sn,
		EventDigest: eventDigest,
		Timestamp:   timestamp,
	}
	raw, err := envelope.Derive(k, p.HashCode, p.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("reply: derive key-state notice SAID: %w", err)
	}
	return k, raw, nil
}

// MarshalWire assembles the full on-wire reply envelope HandleReply accepts:
// the KSN plus its signer attachment.
func MarshalWire(sr *SignedReply) ([]byte, error) {
	w := wireReply{KSN: sr.KSN, SignerPrefix: sr.SignerPrefix, SignerSeal: sr.SignerSeal, Sigs: sr.Sigs}
	return envelope.Marshal(envelope.FormatJSON, w)
}
