// Copyright 2025 Certen Protocol
//
// Serialization codec for the two envelope formats this implementation
// supports. JSON is canonical because Go's encoding/json marshals struct
// fields in declaration order deterministically; CBOR uses fxamacker/cbor's
// canonical encoding mode so two processes serializing the same struct always
// produce identical bytes — a requirement of the dummy-event procedure, which
// hashes the serialized form.
//
// MessagePack is permitted by spec §6.1 but not implemented here: no example
// in the retrieval pack exercises a MessagePack codec, and KERI's own
// reference implementations treat it as the least-used of the three.

package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var canonicalCBOREncMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("envelope: building canonical CBOR encode mode: %v", err))
	}
	return mode
}()

// Marshal serializes v under the given format.
func Marshal(format Format, v interface{}) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.Marshal(v)
	case FormatCBOR:
		return canonicalCBOREncMode.Marshal(v)
	default:
		return nil, fmt.Errorf("envelope: unsupported format %q", format)
	}
}

// Unmarshal deserializes data under the given format into v.
func Unmarshal(format Format, data []byte, v interface{}) error {
	switch format {
	case FormatJSON:
		return json.Unmarshal(data, v)
	case FormatCBOR:
		return cbor.Unmarshal(data, v)
	default:
		return fmt.Errorf("envelope: unsupported format %q", format)
	}
}
