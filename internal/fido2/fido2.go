// Package fido2 defines the authenticator contract used for enrollment and
// unlock. An authenticator holds a credential bound to a relying-party ID
// and, via the hmac-secret extension, turns (credential, salt) into a
// reproducible 32-byte secret. Implementations live in subpackages:
// hidtoken talks to real USB authenticators, softtoken is a file-backed
// software token for machines without hardware.
package fido2

import "context"

// SaltSize is the hmac-secret salt length fixed by the CTAP2 specification.
const SaltSize = 32

// SecretSize is the length of the derived secret (HMAC-SHA-256 output).
const SecretSize = 32

// Flags is the set of authentication factors involved in an operation.
type Flags uint8

const (
	// FlagUP requires a user-presence check (a touch).
	FlagUP Flags = 1 << iota
	// FlagUV requires built-in user verification (biometrics or on-device PIN).
	FlagUV
	// FlagPIN requires the client PIN protocol.
	FlagPIN
)

// Has reports whether every factor in g is set in f.
func (f Flags) Has(g Flags) bool { return f&g == g }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	s := ""
	add := func(name string) {
		if s != "" {
			s += "+"
		}
		s += name
	}
	if f.Has(FlagUP) {
		add("up")
	}
	if f.Has(FlagUV) {
		add("uv")
	}
	if f.Has(FlagPIN) {
		add("pin")
	}
	return s
}

// GenerateRequest describes the credential to create.
type GenerateRequest struct {
	RPID        string
	RPName      string
	UserID      []byte
	UserName    string
	DisplayName string
	// Flags are the factors the caller wants enforced. The device may
	// enforce more; the effective set comes back in GenerateResult.
	Flags Flags
	// PIN is the client PIN, empty when none was collected yet.
	PIN string
}

// GenerateResult is the outcome of a successful credential creation. Secret
// is the hmac-secret output for the returned salt and belongs to the caller,
// who must wipe it.
type GenerateResult struct {
	CredentialID []byte
	Salt         []byte
	Secret       []byte
	// Flags are the factors the device actually enforced. A superset of
	// the requested set when the device upgrades, never a subset.
	Flags Flags
}

// DeriveRequest re-derives the secret for an existing credential. All fields
// come from stored enrollment metadata except the PIN.
type DeriveRequest struct {
	RPID         string
	CredentialID []byte
	Salt         []byte
	Flags        Flags
	PIN          string
}

// DeriveResult carries the re-derived secret. The caller must wipe it.
type DeriveResult struct {
	Secret []byte
}

// Device is an open authenticator handle.
//
// Both operations may block on user interaction; the context is checked
// before the device call starts, but a call already waiting on a touch
// cannot be interrupted.
type Device interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	Derive(ctx context.Context, req DeriveRequest) (*DeriveResult, error)
	Close() error
}
