// Copyright 2025 Certen Protocol
//
// Hash function registry for SAID derivation. Grounded on the teacher's
// pkg/commitment.HashBytes (SHA-256 + hex) generalized to a pluggable
// hash-function-by-code registry per spec §3.1.

package said

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"lukechampine.com/blake3"
)

// HashFunc computes a raw digest over data.
type HashFunc func(data []byte) []byte

var hashFuncs = map[Code]HashFunc{
	CodeSHA256: func(data []byte) []byte {
		sum := sha256.Sum256(data)
		return sum[:]
	},
	CodeBlake3: func(data []byte) []byte {
		sum := blake3.Sum256(data)
		return sum[:]
	},
}

// Hash computes the SAID for data under the given hash code: the code is
// prefixed onto the base64url-encoded (no padding) digest.
func Hash(code Code, data []byte) (string, error) {
	fn, ok := hashFuncs[code]
	if !ok {
		return "", fmt.Errorf("said: unknown hash code %q", code)
	}
	digest := fn(data)
	return string(code) + base64.RawURLEncoding.EncodeToString(digest), nil
}

// PlaceholderLen returns the length of the encoded SAID string for a given
// hash code: used to build the "dummy event" with a correctly-sized
// placeholder before the real digest is known.
func PlaceholderLen(code Code) int {
	size := DigestSize(code)
	if size == 0 {
		return 0
	}
	return len(code) + base64.RawURLEncoding.EncodedLen(size)
}

// Placeholder returns a string of PlaceholderLen(code) '#' characters, used to
// fill the SAID field of the dummy event before hashing.
func Placeholder(code Code) string {
	n := PlaceholderLen(code)
	b := make([]byte, n)
	for i := range b {
		b[i] = '#'
	}
	return string(b)
}

// Verify recomputes the SAID over data under code and compares to want.
func Verify(code Code, data []byte, want string) (bool, error) {
	got, err := Hash(code, data)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
