//go:build libfido2

package hidtoken

import (
	"context"
	"errors"
	"fmt"

	"github.com/keys-pub/go-libfido2"

	"github.com/dmitrijs2005/fidolock/internal/common"
	"github.com/dmitrijs2005/fidolock/internal/fido2"
)

// FIDO_ERR_UV_BLOCKED; the binding has no named error for it.
const codeUVBlocked = 0x3c

type device struct {
	dev *libfido2.Device
}

var _ fido2.Device = (*device)(nil)

func open(path string) (fido2.Device, error) {
	if path == "" {
		locs, err := libfido2.DeviceLocs()
		if err != nil {
			return nil, fmt.Errorf("enumerate authenticators: %w", err)
		}
		if len(locs) == 0 {
			return nil, fido2.ErrDeviceAbsent
		}
		path = locs[0].Path
	}
	dev, err := libfido2.NewDevice(path)
	if err != nil {
		return nil, mapError(err)
	}
	return &device{dev: dev}, nil
}

// Close releases the handle. The binding opens and closes the HID device
// around each operation, so there is nothing held here.
func (d *device) Close() error { return nil }

func (d *device) Generate(ctx context.Context, req fido2.GenerateRequest) (*fido2.GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	effective, err := d.effectiveFlags(req.Flags)
	if err != nil {
		return nil, err
	}

	uv := libfido2.Default
	if req.Flags.Has(fido2.FlagUV) {
		uv = libfido2.True
	}

	att, err := d.dev.MakeCredential(
		common.GenerateRandByteArray(32),
		libfido2.RelyingParty{ID: req.RPID, Name: req.RPName},
		libfido2.User{ID: req.UserID, Name: req.UserName, DisplayName: req.DisplayName},
		libfido2.ES256,
		req.PIN,
		&libfido2.MakeCredentialOpts{
			Extensions: []libfido2.Extension{libfido2.HMACSecretExtension},
			RK:         libfido2.False,
			UV:         uv,
		},
	)
	if err != nil {
		return nil, mapError(err)
	}

	// The secret comes from an assertion with the factors unlock will use,
	// not from credential creation, so both sides of the lifecycle hit the
	// same hmac-secret key on the token.
	salt := common.GenerateRandByteArray(fido2.SaltSize)
	secret, err := d.assert(req.RPID, att.CredentialID, salt, effective, req.PIN)
	if err != nil {
		return nil, err
	}

	return &fido2.GenerateResult{
		CredentialID: att.CredentialID,
		Salt:         salt,
		Secret:       secret,
		Flags:        effective,
	}, nil
}

func (d *device) Derive(ctx context.Context, req fido2.DeriveRequest) (*fido2.DeriveResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	secret, err := d.assert(req.RPID, req.CredentialID, req.Salt, req.Flags, req.PIN)
	if err != nil {
		return nil, err
	}
	return &fido2.DeriveResult{Secret: secret}, nil
}

// effectiveFlags widens the requested factor set with everything the token
// will enforce anyway: a set client PIN is demanded on credential creation,
// and an always-uv token verifies the user on every operation.
func (d *device) effectiveFlags(requested fido2.Flags) (fido2.Flags, error) {
	info, err := d.dev.Info()
	if err != nil {
		return 0, mapError(err)
	}

	effective := requested
	for _, opt := range info.Options {
		if opt.Value != libfido2.True {
			continue
		}
		switch opt.Name {
		case "clientPin":
			effective |= fido2.FlagPIN
		case "alwaysUv":
			effective |= fido2.FlagUV
		}
	}
	return effective, nil
}

func (d *device) assert(rpID string, credentialID, salt []byte, flags fido2.Flags, pin string) ([]byte, error) {
	up := libfido2.False
	if flags.Has(fido2.FlagUP) {
		up = libfido2.True
	}
	uv := libfido2.Default
	if flags.Has(fido2.FlagUV) {
		uv = libfido2.True
	}
	usePIN := ""
	if flags.Has(fido2.FlagPIN) {
		if pin == "" {
			return nil, fido2.ErrPINRequired
		}
		usePIN = pin
	}

	a, err := d.dev.Assertion(
		rpID,
		common.GenerateRandByteArray(32),
		[][]byte{credentialID},
		usePIN,
		&libfido2.AssertionOpts{
			Extensions: []libfido2.Extension{libfido2.HMACSecretExtension},
			HMACSalt:   salt,
			UP:         up,
			UV:         uv,
		},
	)
	if err != nil {
		return nil, mapError(err)
	}
	if len(a.HMACSecret) != fido2.SecretSize {
		return nil, &fido2.ProtocolError{Msg: "authenticator returned no hmac-secret output"}
	}
	return a.HMACSecret, nil
}

// mapError folds libfido2 errors onto the package sentinels so callers can
// branch without knowing the binding.
func mapError(err error) error {
	switch {
	case errors.Is(err, libfido2.ErrNoCredentials):
		return fido2.ErrCredentialNotFound
	case errors.Is(err, libfido2.ErrPinRequired), errors.Is(err, libfido2.ErrPinNotSet):
		return fido2.ErrPINRequired
	case errors.Is(err, libfido2.ErrPinInvalid):
		return fido2.ErrPINInvalid
	case errors.Is(err, libfido2.ErrPinAuthBlocked):
		return fido2.ErrPINBlocked
	case errors.Is(err, libfido2.ErrOperationDenied),
		errors.Is(err, libfido2.ErrActionTimeout),
		errors.Is(err, libfido2.ErrKeepaliveCancel):
		return fido2.ErrUserDeclined
	case errors.Is(err, libfido2.ErrTX), errors.Is(err, libfido2.ErrRX):
		return fmt.Errorf("%w: %v", fido2.ErrDeviceAbsent, err)
	}

	var le libfido2.Error
	if errors.As(err, &le) {
		if le.Code == codeUVBlocked {
			return fido2.ErrUVBlocked
		}
		return &fido2.ProtocolError{Code: uint8(le.Code), Msg: err.Error()}
	}
	return err
}
