// Copyright 2025 Certen Protocol
//
// Package envelope implements the KERI wire envelope: the version string that
// locates the serialization format and declares an exact byte size (spec
// §6.1), and the dummy-event SAID-derivation procedure (spec §4.1).

package envelope

import (
	"fmt"
)

// Format identifies a serialization used for the envelope body.
type Format string

const (
	FormatJSON Format = "JSON"
	FormatCBOR Format = "CBOR"
)

const versionStringLen = 17 // "KERI10" + 4-char format + 6 hex digits + "_"

// BuildVersionString renders "KERI10<FORMAT><6-hex-size>_".
func BuildVersionString(format Format, size int) (string, error) {
	if len(format) != 4 {
		return "", fmt.Errorf("envelope: format %q must be exactly 4 characters", format)
	}
	if size < 0 || size > 0xFFFFFF {
		return "", fmt.Errorf("envelope: size %d does not fit in 6 hex digits", size)
	}
	return fmt.Sprintf("KERI10%s%06x_", format, size), nil
}

// ZeroVersionString renders a version string with a zero size placeholder,
// used while computing the dummy envelope's serialized length (step 1 of the
// derivation procedure: the version string's length must be fixed before its
// size field is known).
func ZeroVersionString(format Format) (string, error) {
	return BuildVersionString(format, 0)
}

// ParseVersionString extracts the format and declared size from a version
// string, enabling a streaming parser to know exactly how many bytes to
// consume without backtracking (spec §6.1).
func ParseVersionString(s string) (Format, int, error) {
	if len(s) != versionStringLen {
		return "", 0, fmt.Errorf("envelope: version string %q has wrong length %d, want %d", s, len(s), versionStringLen)
	}
	if s[:6] != "KERI10" {
		return "", 0, fmt.Errorf("envelope: version string %q missing KERI10 protocol/major.minor", s)
	}
	format := Format(s[6:10])
	if format != FormatJSON && format != FormatCBOR {
		return "", 0, fmt.Errorf("envelope: unsupported serialization format %q", format)
	}
	var size int
	if _, err := fmt.Sscanf(s[10:16], "%06x", &size); err != nil {
		return "", 0, fmt.Errorf("envelope: bad size field in version string %q: %w", s, err)
	}
	if s[16] != '_' {
		return "", 0, fmt.Errorf("envelope: version string %q missing trailing separator", s)
	}
	return format, size, nil
}
