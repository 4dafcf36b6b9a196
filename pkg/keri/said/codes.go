// Copyright 2025 Certen Protocol
//
// Package said implements KERI's self-addressing identifiers, basic prefixes,
// self-signing prefixes, and indexed signatures — the primitive layer that
// every event and receipt is built on.

package said

// Code is a short string prefix that disambiguates the algorithm behind a
// Basic Prefix, Self-Signing Prefix, or SAID. Codes are deliberately terse
// (one to four characters) so they compose with base64url-encoded material the
// way CESR does, without needing a length-prefixed wire format of their own.
type Code string

const (
	// Basic Prefix codes (public keys).
	CodeEd25519Transferable    Code = "D" // Ed25519 public key, transferable
	CodeEd25519NonTransferable Code = "B" // Ed25519 public key, non-transferable (witnesses)
	CodeECDSASecp256k1         Code = "1AAA"

	// Self-Signing Prefix codes (signatures).
	CodeEd25519Sig Code = "0B"
	CodeECDSASig   Code = "0C"

	// SAID hash-function codes.
	CodeSHA256 Code = "E"
	CodeBlake3 Code = "F"
)

// Digests produced by each hash code, in raw bytes (before base64url
// encoding). Used to size the dummy-event placeholder.
var digestSize = map[Code]int{
	CodeSHA256: 32,
	CodeBlake3: 32,
}

// DigestSize returns the raw digest length in bytes for a hash code, or 0 if
// the code is unknown.
func DigestSize(c Code) int { return digestSize[c] }
