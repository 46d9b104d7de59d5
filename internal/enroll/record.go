package enroll

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/fidolock/internal/fido2"
	"github.com/dmitrijs2005/fidolock/internal/volume"
)

// Token types stored in the volume header.
const (
	// TokenTypeFIDO2 marks a security-key enrollment.
	TokenTypeFIDO2 = "fidolock-fido2"
	// TokenTypeRecovery marks a recovery-key enrollment.
	TokenTypeRecovery = "fidolock-recovery"
)

// Record is the token object a security-key enrollment stores in the volume
// header: everything unlock needs to re-derive the slot passphrase, except
// the authenticator itself. Byte fields marshal as base64 strings.
type Record struct {
	Type        string   `json:"type"`
	Keyslots    []string `json:"keyslots"`
	Credential  []byte   `json:"fido2-credential"`
	Salt        []byte   `json:"fido2-salt"`
	RP          string   `json:"fido2-rp"`
	PINRequired bool     `json:"fido2-clientPin-required"`
	UPRequired  bool     `json:"fido2-up-required"`
	UVRequired  bool     `json:"fido2-uv-required"`
}

// newRecord builds the token object for a completed credential generation.
func newRecord(slot int, res *fido2.GenerateResult) *Record {
	return &Record{
		Type:        TokenTypeFIDO2,
		Keyslots:    []string{strconv.Itoa(slot)},
		Credential:  res.CredentialID,
		Salt:        res.Salt,
		RP:          RelyingPartyID,
		PINRequired: res.Flags.Has(fido2.FlagPIN),
		UPRequired:  res.Flags.Has(fido2.FlagUP),
		UVRequired:  res.Flags.Has(fido2.FlagUV),
	}
}

// Flags reassembles the factor set persisted in the boolean fields.
func (r *Record) Flags() fido2.Flags {
	var f fido2.Flags
	if r.UPRequired {
		f |= fido2.FlagUP
	}
	if r.UVRequired {
		f |= fido2.FlagUV
	}
	if r.PINRequired {
		f |= fido2.FlagPIN
	}
	return f
}

// Slots returns the key slot numbers the record references.
func (r *Record) Slots() ([]int, error) {
	slots := make([]int, 0, len(r.Keyslots))
	for _, s := range r.Keyslots {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: keyslot %q is not a number", ErrMalformedRecord, s)
		}
		slots = append(slots, n)
	}
	return slots, nil
}

func (r *Record) marshal() (json.RawMessage, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return raw, nil
}

// marshalRecoveryToken builds the minimal token recording a recovery slot.
func marshalRecoveryToken(slot int) (json.RawMessage, error) {
	raw, err := json.Marshal(struct {
		Type     string   `json:"type"`
		Keyslots []string `json:"keyslots"`
	}{TokenTypeRecovery, []string{strconv.Itoa(slot)}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return raw, nil
}

// ParseRecord decodes a raw token as a security-key record. Tokens of other
// types yield ErrNotEnrolled so callers can skip them; tokens of our type
// with missing fields yield ErrMalformedRecord.
func ParseRecord(raw json.RawMessage) (*Record, error) {
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if r.Type != TokenTypeFIDO2 {
		return nil, ErrNotEnrolled
	}
	if len(r.Credential) == 0 {
		return nil, fmt.Errorf("%w: no credential", ErrMalformedRecord)
	}
	if len(r.Salt) == 0 {
		return nil, fmt.Errorf("%w: no salt", ErrMalformedRecord)
	}
	if r.RP == "" {
		return nil, fmt.Errorf("%w: no relying party", ErrMalformedRecord)
	}
	return &r, nil
}

// Records returns every security-key record on the volume, keyed by token
// ID. Tokens of other types are skipped; malformed tokens of our type
// surface as errors.
func Records(vol volume.Container) (map[int]*Record, error) {
	out := map[int]*Record{}
	for id, raw := range vol.Tokens() {
		r, err := ParseRecord(raw)
		if err != nil {
			if errors.Is(err, ErrNotEnrolled) {
				continue
			}
			return nil, fmt.Errorf("token %d: %w", id, err)
		}
		out[id] = r
	}
	return out, nil
}

// Remove deletes an enrollment: the token and every key slot it references,
// then persists the header.
func Remove(vol volume.Container, tokenID int) error {
	raw, ok := vol.Tokens()[tokenID]
	if !ok {
		return volume.ErrTokenNotFound
	}

	var shape struct {
		Keyslots []string `json:"keyslots"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	for _, s := range shape.Keyslots {
		n, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		if err := vol.RemoveSlot(n); err != nil && !errors.Is(err, volume.ErrSlotNotFound) {
			return err
		}
	}
	if err := vol.RemoveToken(tokenID); err != nil {
		return err
	}
	return vol.Save()
}
