// Package softtoken implements a file-backed software authenticator for
// machines without FIDO2 hardware. It keeps per-credential hmac-secret keys
// in a CBOR state file and reproduces the CTAP2 behaviors the enrollment
// flow depends on: the client PIN gate with retry lockout, UV upgrade on
// always-uv tokens, and separate hmac-secret keys for verified and
// unverified assertions.
package softtoken

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/dmitrijs2005/fidolock/internal/common"
	"github.com/dmitrijs2005/fidolock/internal/fido2"
	"github.com/dmitrijs2005/fidolock/internal/filex"
)

const (
	credentialIDSize = 32
	pinMaxRetries    = 8

	// CTAP status codes reported for conditions without a sentinel.
	ctapErrInvalidLength     = 0x03
	ctapErrUnsupportedOption = 0x2b
)

type credential struct {
	ID              []byte `cbor:"id"`
	RPID            string `cbor:"rp_id"`
	UserID          []byte `cbor:"user_id"`
	CredRandomUV    []byte `cbor:"cred_random_uv"`
	CredRandomNonUV []byte `cbor:"cred_random_nonuv"`
}

type state struct {
	PINSalt     []byte       `cbor:"pin_salt,omitempty"`
	PINHash     []byte       `cbor:"pin_hash,omitempty"`
	PINRetries  int          `cbor:"pin_retries"`
	SupportsUV  bool         `cbor:"supports_uv"`
	AlwaysUV    bool         `cbor:"always_uv"`
	UVLocked    bool         `cbor:"uv_locked"`
	DeclineUP   bool         `cbor:"decline_up"`
	Credentials []credential `cbor:"credentials"`
}

// Options configure a token profile at creation time. The failure knobs
// exist so callers can exercise every device condition without hardware.
type Options struct {
	// PIN enables the client PIN protocol with this value.
	PIN string
	// SupportsUV marks the token as having built-in user verification.
	SupportsUV bool
	// AlwaysUV makes the token enforce UV on every operation, like
	// hardware configured with the alwaysUv option.
	AlwaysUV bool
	// UVLocked simulates user verification locked out after failures.
	UVLocked bool
	// DeclineUP makes every user-presence check fail, like a token whose
	// button is never touched.
	DeclineUP bool
}

// Token is an open software authenticator. It satisfies fido2.Device.
type Token struct {
	path string
	st   state
}

var _ fido2.Device = (*Token)(nil)

// Create initializes a new token state file at path. It fails if one
// already exists.
func Create(path string, opts Options) (*Token, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("token state already exists at %s", path)
	}

	st := state{
		PINRetries: pinMaxRetries,
		SupportsUV: opts.SupportsUV,
		AlwaysUV:   opts.AlwaysUV,
		UVLocked:   opts.UVLocked,
		DeclineUP:  opts.DeclineUP,
	}
	if opts.PIN != "" {
		st.PINSalt = common.GenerateRandByteArray(16)
		st.PINHash = hashPIN(st.PINSalt, opts.PIN)
	}

	t := &Token{path: path, st: st}
	if err := t.save(); err != nil {
		return nil, err
	}
	return t, nil
}

// Open loads an existing token state file. A missing file means there is no
// authenticator to talk to.
func Open(path string) (*Token, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", path, fido2.ErrDeviceAbsent)
	}
	if err != nil {
		return nil, fmt.Errorf("read token state: %w", err)
	}

	var st state
	if err := cbor.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode token state %s: %w", path, err)
	}
	return &Token{path: path, st: st}, nil
}

func (t *Token) save() error {
	raw, err := cbor.Marshal(t.st)
	if err != nil {
		return fmt.Errorf("encode token state: %w", err)
	}
	if err := filex.WriteFileAtomic(t.path, raw, 0o600); err != nil {
		return fmt.Errorf("write token state: %w", err)
	}
	return nil
}

// Close releases the token. State is persisted on every mutation, so there
// is nothing to flush.
func (t *Token) Close() error { return nil }

func hashPIN(salt []byte, pin string) []byte {
	mac := hmac.New(sha256.New, salt)
	mac.Write([]byte(pin))
	return mac.Sum(nil)
}

// checkPIN runs the client PIN gate and persists retry bookkeeping.
func (t *Token) checkPIN(pin string) error {
	if t.st.PINRetries <= 0 {
		return fido2.ErrPINBlocked
	}
	if pin == "" {
		return fido2.ErrPINRequired
	}
	sum := hashPIN(t.st.PINSalt, pin)
	if subtle.ConstantTimeCompare(sum, t.st.PINHash) != 1 {
		t.st.PINRetries--
		if err := t.save(); err != nil {
			return err
		}
		if t.st.PINRetries == 0 {
			return fido2.ErrPINBlocked
		}
		return fido2.ErrPINInvalid
	}
	if t.st.PINRetries != pinMaxRetries {
		t.st.PINRetries = pinMaxRetries
		if err := t.save(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Token) checkUV() error {
	if !t.st.SupportsUV {
		return &fido2.ProtocolError{Code: ctapErrUnsupportedOption, Msg: "user verification not supported"}
	}
	if t.st.UVLocked {
		return fido2.ErrUVBlocked
	}
	return nil
}

// Generate creates a credential and derives its first secret.
//
// Two upgrade paths mirror hardware behavior: a token with a client PIN set
// demands the PIN for credential creation and that demand carries into the
// effective flags, and an always-uv token adds FlagUV. The returned secret
// is derived with the effective flags, exactly as a later Derive with the
// same flags will.
func (t *Token) Generate(ctx context.Context, req fido2.GenerateRequest) (*fido2.GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// credential creation always involves a presence check
	if t.st.DeclineUP {
		return nil, fido2.ErrUserDeclined
	}

	effective := req.Flags
	if t.st.PINHash != nil {
		if err := t.checkPIN(req.PIN); err != nil {
			return nil, err
		}
		effective |= fido2.FlagPIN
	}
	if t.st.AlwaysUV && t.st.SupportsUV {
		effective |= fido2.FlagUV
	}
	if effective.Has(fido2.FlagUV) {
		if err := t.checkUV(); err != nil {
			return nil, err
		}
	}

	cred := credential{
		ID:              common.GenerateRandByteArray(credentialIDSize),
		RPID:            req.RPID,
		UserID:          append([]byte(nil), req.UserID...),
		CredRandomUV:    common.GenerateRandByteArray(fido2.SecretSize),
		CredRandomNonUV: common.GenerateRandByteArray(fido2.SecretSize),
	}
	t.st.Credentials = append(t.st.Credentials, cred)
	if err := t.save(); err != nil {
		return nil, err
	}

	salt := common.GenerateRandByteArray(fido2.SaltSize)
	return &fido2.GenerateResult{
		CredentialID: cred.ID,
		Salt:         salt,
		Secret:       hmacSecret(cred, effective, salt),
		Flags:        effective,
	}, nil
}

// Derive re-derives the hmac-secret output for an enrolled credential.
func (t *Token) Derive(ctx context.Context, req fido2.DeriveRequest) (*fido2.DeriveResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Salt) != fido2.SaltSize {
		return nil, &fido2.ProtocolError{Code: ctapErrInvalidLength, Msg: "bad salt length"}
	}

	cred, ok := t.findCredential(req.RPID, req.CredentialID)
	if !ok {
		return nil, fido2.ErrCredentialNotFound
	}

	if req.Flags.Has(fido2.FlagPIN) {
		if t.st.PINHash == nil {
			return nil, fido2.ErrPINRequired
		}
		if err := t.checkPIN(req.PIN); err != nil {
			return nil, err
		}
	}
	if req.Flags.Has(fido2.FlagUV) {
		if err := t.checkUV(); err != nil {
			return nil, err
		}
	}
	if req.Flags.Has(fido2.FlagUP) && t.st.DeclineUP {
		return nil, fido2.ErrUserDeclined
	}

	return &fido2.DeriveResult{Secret: hmacSecret(cred, req.Flags, req.Salt)}, nil
}

func (t *Token) findCredential(rpID string, id []byte) (credential, bool) {
	for _, c := range t.st.Credentials {
		if c.RPID == rpID && bytes.Equal(c.ID, id) {
			return c, true
		}
	}
	return credential{}, false
}

// hmacSecret computes HMAC-SHA-256(credRandom, salt). Verified and
// unverified operations use different credRandom keys, so the same salt
// yields a different secret when the factor set changes between enrollment
// and unlock.
func hmacSecret(cred credential, flags fido2.Flags, salt []byte) []byte {
	key := cred.CredRandomNonUV
	if flags.Has(fido2.FlagUV) || flags.Has(fido2.FlagPIN) {
		key = cred.CredRandomUV
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(salt)
	return mac.Sum(nil)
}
