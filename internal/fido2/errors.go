package fido2

import (
	"errors"
	"fmt"
)

// Sentinel errors implementations map device conditions onto. Everything a
// caller can act on is one of these; anything else surfaces as a
// ProtocolError.
var (
	// ErrDeviceAbsent means no usable authenticator was found.
	ErrDeviceAbsent = errors.New("no authenticator present")
	// ErrUserDeclined means the presence check was refused or timed out.
	ErrUserDeclined = errors.New("user presence check declined or timed out")
	// ErrUVBlocked means built-in user verification is locked out after
	// too many failed attempts.
	ErrUVBlocked = errors.New("user verification blocked on device")
	// ErrPINRequired means the operation needs a client PIN and none was
	// supplied.
	ErrPINRequired = errors.New("client pin required")
	// ErrPINInvalid means the supplied client PIN was rejected.
	ErrPINInvalid = errors.New("invalid client pin")
	// ErrPINBlocked means the client PIN is locked out and must be reset.
	ErrPINBlocked = errors.New("client pin blocked")
	// ErrCredentialNotFound means this authenticator does not recognize
	// the credential, typically because it is a different device than the
	// one enrolled.
	ErrCredentialNotFound = errors.New("credential not recognized by authenticator")
)

// ProtocolError is a CTAP status with no caller-actionable mapping.
type ProtocolError struct {
	Code uint8
	Msg  string
}

func (e *ProtocolError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("authenticator protocol error 0x%02x: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("authenticator protocol error 0x%02x", e.Code)
}
