package enroll

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/fidolock/internal/fido2"
	"github.com/dmitrijs2005/fidolock/internal/secmem"
	"github.com/dmitrijs2005/fidolock/internal/volume"
)

// Unlock is a successful recovery: the unwrapped master key and where it
// came from. The caller owns Key and must wipe it.
type Unlock struct {
	Key     []byte
	Slot    int
	TokenID int
}

// Recover unlocks the volume with a security key.
//
// Every recorded enrollment is tried in token order. For each, the secret
// is re-derived on the device with the factors persisted at enrollment
// time, encoded exactly as enrollment encoded it, and offered to the slots
// the token names. A credential the device does not recognize moves on to
// the next token; factor failures abort immediately, since retrying other
// tokens cannot fix a declined touch or a wrong PIN.
func Recover(ctx context.Context, dev fido2.Device, vol volume.Container, pin string) (*Unlock, error) {
	records, err := Records(vol)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotEnrolled
	}

	ids := make([]int, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var lastErr error
	for _, id := range ids {
		r := records[id]

		res, err := dev.Derive(ctx, fido2.DeriveRequest{
			RPID:         r.RP,
			CredentialID: r.Credential,
			Salt:         r.Salt,
			Flags:        r.Flags(),
			PIN:          pin,
		})
		if err != nil {
			if errors.Is(err, fido2.ErrCredentialNotFound) {
				lastErr = err
				continue
			}
			return nil, err
		}

		key, slot, err := openRecordedSlots(vol, r, res.Secret)
		secmem.Wipe(res.Secret)
		if err != nil {
			lastErr = fmt.Errorf("token %d: %w", id, err)
			continue
		}
		return &Unlock{Key: key, Slot: slot, TokenID: id}, nil
	}

	return nil, fmt.Errorf("no enrollment unlocked the volume: %w", lastErr)
}

// openRecordedSlots encodes the derived secret and offers it to the slots
// the record references, falling back to every slot when the record names
// none that open.
func openRecordedSlots(vol volume.Container, r *Record, secret []byte) ([]byte, int, error) {
	passphrase := EncodePassphrase(secret)
	defer secmem.Wipe(passphrase)

	slots, err := r.Slots()
	if err != nil {
		return nil, 0, err
	}

	for _, slot := range slots {
		key, err := vol.UnwrapSlot(slot, passphrase)
		if err == nil {
			return key, slot, nil
		}
		if !errors.Is(err, volume.ErrWrongPassphrase) && !errors.Is(err, volume.ErrSlotNotFound) {
			return nil, 0, err
		}
	}

	// The record's slots are gone or drifted; the secret may still open a
	// slot re-wrapped elsewhere.
	key, slot, err := vol.UnwrapAnySlot(passphrase)
	if err != nil {
		return nil, 0, err
	}
	return key, slot, nil
}
