package enroll

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fidolock/internal/fido2"
	"github.com/dmitrijs2005/fidolock/internal/volume"
)

var (
	// ErrNotEnrolled means the volume carries no fidolock token of the
	// requested kind.
	ErrNotEnrolled = errors.New("volume has no matching enrollment")
	// ErrMalformedRecord means a token of our type failed to parse.
	ErrMalformedRecord = errors.New("malformed enrollment token")
)

// OrphanSlotError reports that the key slot was persisted but its token was
// not, leaving a slot no metadata points at. The enrollment is unusable for
// token unlock until the slot is wiped or re-enrolled, but the slot does
// hold the volume key under the device secret.
type OrphanSlotError struct {
	Slot int
	Err  error
}

func (e *OrphanSlotError) Error() string {
	return fmt.Sprintf("key slot %d was added but its token was not persisted: %v", e.Slot, e.Err)
}

func (e *OrphanSlotError) Unwrap() error { return e.Err }

// Class groups errors by what the operator can do about them.
type Class int

const (
	ClassUnknown Class = iota
	// ClassTransport: the authenticator is missing or unreachable.
	ClassTransport
	// ClassAuthFactor: the user-side factor failed (touch, UV, PIN).
	ClassAuthFactor
	// ClassBinding: the credential does not belong to this authenticator.
	ClassBinding
	// ClassStorage: the volume header rejected the operation.
	ClassStorage
	// ClassEncoding: enrollment metadata failed to encode or parse.
	ClassEncoding
)

func (c Class) String() string {
	switch c {
	case ClassTransport:
		return "transport"
	case ClassAuthFactor:
		return "auth-factor"
	case ClassBinding:
		return "binding"
	case ClassStorage:
		return "storage"
	case ClassEncoding:
		return "encoding"
	default:
		return "unknown"
	}
}

// Classify maps an error from any enrollment or unlock operation onto its
// Class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, fido2.ErrDeviceAbsent),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTransport
	case errors.Is(err, fido2.ErrUserDeclined),
		errors.Is(err, fido2.ErrUVBlocked),
		errors.Is(err, fido2.ErrPINRequired),
		errors.Is(err, fido2.ErrPINInvalid),
		errors.Is(err, fido2.ErrPINBlocked):
		return ClassAuthFactor
	case errors.Is(err, fido2.ErrCredentialNotFound):
		return ClassBinding
	case errors.Is(err, volume.ErrNoFreeSlot),
		errors.Is(err, volume.ErrWrongPassphrase),
		errors.Is(err, volume.ErrSlotNotFound),
		errors.Is(err, volume.ErrTokenNotFound),
		errors.Is(err, volume.ErrKeyMismatch),
		errors.Is(err, volume.ErrHeaderCorrupt):
		return ClassStorage
	case errors.Is(err, ErrMalformedRecord):
		return ClassEncoding
	}

	var orphan *OrphanSlotError
	if errors.As(err, &orphan) {
		return ClassStorage
	}
	var protocol *fido2.ProtocolError
	if errors.As(err, &protocol) {
		return ClassTransport
	}
	return ClassUnknown
}
