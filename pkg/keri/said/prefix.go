// Copyright 2025 Certen Protocol
//
// Basic Prefix, Self-Signing Prefix, Indexed Signature, and Identifier Prefix.

package said

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// BasicPrefix is a public key tagged with the algorithm code that produced
// it, so a verifier never needs out-of-band algorithm negotiation.
type BasicPrefix struct {
	Code Code
	Key  []byte
}

// String renders the qb64-style encoding: code + base64url(key).
func (p BasicPrefix) String() string {
	return string(p.Code) + base64.RawURLEncoding.EncodeToString(p.Key)
}

// NonTransferable reports whether this prefix's code marks it as a
// non-transferable identifier (the identifier IS the key; no KEL backs it —
// used by witnesses and watchers).
func (p BasicPrefix) NonTransferable() bool {
	return p.Code == CodeEd25519NonTransferable
}

// ParseBasicPrefix decodes a qb64-style string back into a BasicPrefix.
func ParseBasicPrefix(s string) (BasicPrefix, error) {
	for _, code := range []Code{CodeEd25519Transferable, CodeEd25519NonTransferable} {
		if len(s) > len(code) && s[:len(code)] == string(code) {
			key, err := base64.RawURLEncoding.DecodeString(s[len(code):])
			if err != nil {
				return BasicPrefix{}, fmt.Errorf("said: decode basic prefix: %w", err)
			}
			return BasicPrefix{Code: code, Key: key}, nil
		}
	}
	return BasicPrefix{}, fmt.Errorf("said: unrecognized basic prefix %q", s)
}

// SelfSigningPrefix is a signature tagged with the algorithm code.
type SelfSigningPrefix struct {
	Code Code
	Sig  []byte
}

func (p SelfSigningPrefix) String() string {
	return string(p.Code) + base64.RawURLEncoding.EncodeToString(p.Sig)
}

// IndexedSignature pairs a signature with the index of the signing key
// within the current key configuration's ordered key list.
type IndexedSignature struct {
	Index int
	Sig   SelfSigningPrefix
}

// Sign produces a SelfSigningPrefix for data using the key algorithm
// implied by code. Only Ed25519 and ECDSA-secp256k1 are supported, matching
// the two Basic Prefix algorithms above.
func Sign(code Code, priv []byte, data []byte) (SelfSigningPrefix, error) {
	switch code {
	case CodeEd25519Transferable, CodeEd25519NonTransferable:
		if len(priv) != ed25519.PrivateKeySize {
			return SelfSigningPrefix{}, fmt.Errorf("said: bad ed25519 private key size %d", len(priv))
		}
		sig := ed25519.Sign(ed25519.PrivateKey(priv), data)
		return SelfSigningPrefix{Code: CodeEd25519Sig, Sig: sig}, nil
	case CodeECDSASecp256k1:
		sk := secp256k1.PrivKeyFromBytes(priv)
		digest := sumForECDSA(data)
		sig := ecdsa.Sign(sk, digest)
		return SelfSigningPrefix{Code: CodeECDSASig, Sig: sig.Serialize()}, nil
	default:
		return SelfSigningPrefix{}, fmt.Errorf("said: unsupported signing code %q", code)
	}
}

// VerifySignature verifies a SelfSigningPrefix against data using pub.
func VerifySignature(pub BasicPrefix, sig SelfSigningPrefix, data []byte) bool {
	switch pub.Code {
	case CodeEd25519Transferable, CodeEd25519NonTransferable:
		if sig.Code != CodeEd25519Sig || len(pub.Key) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pub.Key), data, sig.Sig)
	case CodeECDSASecp256k1:
		if sig.Code != CodeECDSASig {
			return false
		}
		pk, err := secp256k1.ParsePubKey(pub.Key)
		if err != nil {
			return false
		}
		parsed, err := ecdsa.ParseDERSignature(sig.Sig)
		if err != nil {
			return false
		}
		return parsed.Verify(sumForECDSA(data), pk)
	default:
		return false
	}
}

func sumForECDSA(data []byte) []byte {
	// secp256k1 signs a fixed-size digest; reuse the SAID SHA-256 function
	// rather than introduce a second hash dependency.
	h, _ := Hash(CodeSHA256, data)
	// Hash returns an encoded string; decode back to raw bytes for signing.
	raw, err := base64.RawURLEncoding.DecodeString(h[len(CodeSHA256):])
	if err != nil {
		// Unreachable: Hash() always produces valid base64url output.
		return nil
	}
	return raw
}

// IdentifierPrefix is either a BasicPrefix (self-signing, non-transferable)
// or a SAID of the identifier's inception event (self-addressing,
// transferable).
type IdentifierPrefix string

func (p IdentifierPrefix) String() string { return string(p) }
