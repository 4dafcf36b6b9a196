// Copyright 2025 Certen Protocol
//
// Package kerierr defines the error taxonomy for the KERI core: a fixed set of
// error kinds that double as the routing key for the escrow state machine.

package kerierr

import (
	"errors"
	"fmt"
)

// Kind classifies a validation failure. Escrow routing is a pure function of
// the Kind carried by a ValidationError.
type Kind string

const (
	KindEventOutOfOrder       Kind = "EventOutOfOrder"
	KindNotEnoughSigs         Kind = "NotEnoughSigs"
	KindNotEnoughReceipts     Kind = "NotEnoughReceipts"
	KindMissingDelegating     Kind = "MissingDelegating"
	KindSignatureVerification Kind = "SignatureVerification"
	KindPreRotationMismatch   Kind = "PreRotationMismatch"
	KindEventDuplicate        Kind = "EventDuplicate"
	KindDuplicitousEvent      Kind = "DuplicitousEvent"
	KindIncorrectDigest       Kind = "IncorrectDigest"
	KindStaleRpy              Kind = "StaleRpy"
	KindStaleKsn              Kind = "StaleKsn"
	KindEventGeneration       Kind = "EventGenerationError"
)

// Sentinel errors for conditions that carry no interesting payload.
var (
	ErrEmptyKeys             = errors.New("keri: key list must not be empty")
	ErrThresholdUnsatisfiable = errors.New("keri: threshold not satisfiable by key count")
	ErrEmptyNextDigests      = errors.New("keri: next-key digest list must not be empty for non-zero next threshold")
	ErrWitnessThresholdTooHigh = errors.New("keri: witness threshold exceeds witness count")
	ErrUnknownPrefix         = errors.New("keri: unknown identifier prefix")
	ErrUnknownEvent          = errors.New("keri: event not found in log")
)

// ValidationError is the single exported error type for the taxonomy in
// spec §7. Kind selects which escrow (if any) a message should be routed to;
// Message and the wrapped cause carry operator-facing detail.
type ValidationError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("keri: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("keri: %s: %s", e.Kind, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, kerierr.New(KindX, "")) match on Kind alone.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs a ValidationError of the given kind.
func New(kind Kind, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a ValidationError of the given kind, wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Escrowable reports whether an error of this kind belongs in one of the
// five escrows rather than being fatal for the message.
func Escrowable(kind Kind) bool {
	switch kind {
	case KindEventOutOfOrder, KindNotEnoughSigs, KindNotEnoughReceipts, KindMissingDelegating:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind from err if it is (or wraps) a *ValidationError.
func KindOf(err error) (Kind, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return "", false
}
