// Package cryptox provides the cryptographic primitives shared by the
// volume container and the escrow client: argon2id key derivation with
// explicit cost parameters, XChaCha20-Poly1305 sealing of key material, and
// the master-key digest used to validate unlock candidates.
package cryptox

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/dmitrijs2005/fidolock/internal/common"
	"github.com/dmitrijs2005/fidolock/internal/secmem"
)

// KeySize is the symmetric key length used throughout (XChaCha20-Poly1305
// and AES-256 both take 32 bytes).
const KeySize = 32

// SaltSize is the length of KDF salts generated by this package.
const SaltSize = 16

// ErrAuthFailed is returned when an AEAD open fails. For a keyslot this
// means the candidate passphrase was wrong or the blob is corrupt; the two
// cases are indistinguishable by construction.
var ErrAuthFailed = errors.New("authentication failed")

// KDFParams are argon2id cost parameters. They are persisted next to every
// derived artifact so the exact derivation can be repeated later.
type KDFParams struct {
	Time     uint32 `json:"time"`
	MemoryKB uint32 `json:"memory_kb"`
	Threads  uint8  `json:"threads"`
}

// DefaultKDFParams returns the cost used for human-chosen passphrases.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 4, MemoryKB: 256 * 1024, Threads: 4}
}

// MinimalKDFParams returns the cheapest valid cost. It is meant for
// passphrases that already carry full key entropy (security-key derived
// secrets, generated recovery keys), where stretching adds latency but no
// security.
func MinimalKDFParams() KDFParams {
	return KDFParams{Time: 1, MemoryKB: 1024, Threads: 1}
}

// Valid reports whether the parameters are inside argon2's accepted range.
func (p KDFParams) Valid() bool {
	return p.Time >= 1 && p.Threads >= 1 && p.MemoryKB >= 8*uint32(p.Threads)
}

// DeriveKey stretches passphrase with argon2id into a key of keyLen bytes.
// Identical inputs always produce identical output.
func DeriveKey(passphrase, salt []byte, p KDFParams, keyLen uint32) []byte {
	return argon2.IDKey(passphrase, salt, p.Time, p.MemoryKB, p.Threads, keyLen)
}

// Seal encrypts plaintext with XChaCha20-Poly1305 under key, returning the
// random nonce and the ciphertext. The key must be KeySize bytes.
func Seal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = common.GenerateRandByteArray(chacha20poly1305.NonceSizeX)
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// Open decrypts a Seal result. A wrong key or a modified ciphertext yields
// ErrAuthFailed.
func Open(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// Digest is a one-way commitment to the volume master key, stored in the
// container header. It lets slot operations confirm a candidate key without
// keeping the key itself. The master key is high-entropy, so the KDF cost
// here is for one-wayness, not stretching.
type Digest struct {
	Salt   []byte    `json:"salt"`
	Params KDFParams `json:"params"`
	Sum    []byte    `json:"sum"`
}

// MakeDigest commits to key with a fresh salt and minimal argon2id cost.
func MakeDigest(key []byte) *Digest {
	salt := common.GenerateRandByteArray(SaltSize)
	p := MinimalKDFParams()
	return &Digest{
		Salt:   salt,
		Params: p,
		Sum:    DeriveKey(key, salt, p, KeySize),
	}
}

// Verify reports whether key matches the digest. The comparison is constant
// time.
func (d *Digest) Verify(key []byte) bool {
	if d == nil || !d.Params.Valid() {
		return false
	}
	sum := DeriveKey(key, d.Salt, d.Params, KeySize)
	defer secmem.Wipe(sum)
	return subtle.ConstantTimeCompare(sum, d.Sum) == 1
}
