package cryptox

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/dmitrijs2005/fidolock/internal/common"
	"github.com/dmitrijs2005/fidolock/internal/secmem"
)

// Capsule is a self-contained encrypted blob: everything needed to decrypt
// it again, except the passphrase, travels with it. It is the format the
// escrow service stores, so the server never needs KDF knowledge.
type Capsule struct {
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
	Params     KDFParams `json:"params"`
}

// SealCapsule encrypts plaintext with AES-256-GCM under a key derived from
// passphrase at the given cost.
func SealCapsule(passphrase, plaintext []byte, p KDFParams) (*Capsule, error) {
	salt := common.GenerateRandByteArray(SaltSize)
	key := DeriveKey(passphrase, salt, p, KeySize)
	defer secmem.Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := common.GenerateRandByteArray(gcm.NonceSize())
	return &Capsule{
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
		Params:     p,
	}, nil
}

// OpenCapsule reverses SealCapsule. A wrong passphrase or tampered blob
// yields ErrAuthFailed.
func OpenCapsule(passphrase []byte, c *Capsule) ([]byte, error) {
	key := DeriveKey(passphrase, c.Salt, c.Params, KeySize)
	defer secmem.Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, c.Nonce, c.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
