// Package enroll implements security-key enrollment and unlock for volume
// containers. Enrollment creates a credential on the authenticator, wraps
// the volume master key under the derived secret in a fresh key slot, and
// records a token describing how to repeat the derivation. Unlock walks the
// recorded tokens, re-derives the secret on the device, and opens the slot
// the token references.
package enroll

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fidolock/internal/fido2"
	"github.com/dmitrijs2005/fidolock/internal/secmem"
	"github.com/dmitrijs2005/fidolock/internal/volume"
)

const (
	// RelyingPartyID is the fixed relying party credentials are bound to.
	// Changing it would orphan every existing enrollment.
	RelyingPartyID = "io.fidolock.cryptsetup"
	// RelyingPartyName is the human-readable relying party name shown by
	// authenticator UIs.
	RelyingPartyName = "Encrypted Volume"
)

// Params tune a security-key enrollment.
type Params struct {
	// Flags are the factors to require at unlock. The device may enforce
	// more; the persisted set is what it actually enforced.
	Flags fido2.Flags
	// PIN is the client PIN, when already collected.
	PIN string
}

// Enrollment describes a completed enrollment.
type Enrollment struct {
	Slot    int
	TokenID int
	// Flags are the effective factors the token will demand at unlock.
	Flags fido2.Flags
}

// Enroll binds the volume to a security key.
//
// The caller proves access by supplying the unwrapped master key. The key
// slot is persisted before the token referencing it, so a crash between the
// two writes leaves an extra slot, never a token pointing at nothing; if
// the token write fails the slot number comes back in an OrphanSlotError.
// All secret material derived along the way is wiped before return.
func Enroll(ctx context.Context, dev fido2.Device, vol volume.Container, masterKey []byte, p Params) (*Enrollment, error) {
	res, err := dev.Generate(ctx, fido2.GenerateRequest{
		RPID:        RelyingPartyID,
		RPName:      RelyingPartyName,
		UserID:      []byte(vol.UUID()),
		UserName:    vol.UUID(),
		DisplayName: vol.Node(),
		Flags:       p.Flags,
		PIN:         p.PIN,
	})
	if err != nil {
		return nil, err
	}
	defer secmem.Wipe(res.Secret)

	passphrase := EncodePassphrase(res.Secret)
	defer secmem.Wipe(passphrase)

	// The secret carries full key entropy already, stretching it would
	// only slow unlock down.
	vol.SetMinimalKDF()

	slot, err := vol.AddSlotByKey(masterKey, passphrase)
	if err != nil {
		return nil, fmt.Errorf("add key slot: %w", err)
	}
	if err := vol.Save(); err != nil {
		return nil, fmt.Errorf("persist key slot: %w", err)
	}

	raw, err := newRecord(slot, res).marshal()
	if err != nil {
		return nil, &OrphanSlotError{Slot: slot, Err: err}
	}
	tokenID, err := vol.AddToken(raw)
	if err != nil {
		return nil, &OrphanSlotError{Slot: slot, Err: err}
	}
	if err := vol.Save(); err != nil {
		return nil, &OrphanSlotError{Slot: slot, Err: err}
	}

	return &Enrollment{Slot: slot, TokenID: tokenID, Flags: res.Flags}, nil
}

// EnrollRecovery adds a recovery-key slot. The passphrase is expected to be
// a generated high-entropy key, so the slot uses minimal derivation, and a
// token records its existence.
func EnrollRecovery(vol volume.Container, masterKey, passphrase []byte) (*Enrollment, error) {
	vol.SetMinimalKDF()

	slot, err := vol.AddSlotByKey(masterKey, passphrase)
	if err != nil {
		return nil, fmt.Errorf("add key slot: %w", err)
	}
	if err := vol.Save(); err != nil {
		return nil, fmt.Errorf("persist key slot: %w", err)
	}

	raw, err := marshalRecoveryToken(slot)
	if err != nil {
		return nil, &OrphanSlotError{Slot: slot, Err: err}
	}
	tokenID, err := vol.AddToken(raw)
	if err != nil {
		return nil, &OrphanSlotError{Slot: slot, Err: err}
	}
	if err := vol.Save(); err != nil {
		return nil, &OrphanSlotError{Slot: slot, Err: err}
	}

	return &Enrollment{Slot: slot, TokenID: tokenID}, nil
}

// EnrollPassphrase adds a plain passphrase slot at full derivation cost. No
// token is recorded; a passphrase needs no metadata to be retyped.
func EnrollPassphrase(vol volume.Container, masterKey, passphrase []byte) (int, error) {
	slot, err := vol.AddSlotByKey(masterKey, passphrase)
	if err != nil {
		return 0, fmt.Errorf("add key slot: %w", err)
	}
	if err := vol.Save(); err != nil {
		return 0, fmt.Errorf("persist key slot: %w", err)
	}
	return slot, nil
}
