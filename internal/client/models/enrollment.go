package models

import (
	"encoding/json"
	"time"
)

// EnrollmentKind classifies a keyslot binding.
type EnrollmentKind string

const (
	KindFIDO2    EnrollmentKind = "fido2"
	KindRecovery EnrollmentKind = "recovery"
)

// Enrollment is the local inventory record of one keyslot binding on an
// encrypted volume. The volume header stays authoritative; the inventory
// lets the CLI list bindings and drive escrow sync without touching disks.
type Enrollment struct {
	// VolumeUUID identifies the volume the binding lives on.
	VolumeUUID string

	// Node is the device node the volume was last seen at.
	Node string

	// Slot is the key slot holding the wrapped key.
	Slot int

	// TokenID is the header token describing the binding.
	TokenID int

	// Kind tells a security-key binding from a recovery-key one.
	Kind EnrollmentKind

	// Credential is the base64 credential id for security-key bindings,
	// empty for recovery keys.
	Credential string

	// Record is a copy of the header token, kept so escrow sync works
	// with the volume detached.
	Record json.RawMessage

	// Capsule is the sealed recovery-key blob destined for escrow, nil
	// when none was produced.
	Capsule []byte

	// Synced reports whether the binding record reached the escrow server.
	Synced bool

	// CreatedAt is the local enrollment time in UTC.
	CreatedAt time.Time

	// UpdatedAt is the last local modification time in UTC.
	UpdatedAt time.Time
}
