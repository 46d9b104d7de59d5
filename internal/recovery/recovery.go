// Package recovery generates and parses volume recovery keys. A key is 256
// bits of entropy; the slot passphrase is the raw entropy, while the two
// display formats exist only for the human carrying it on paper. Parse
// accepts either format and returns the same bytes that were enrolled, so a
// key printed one way and retyped sloppily still opens the slot.
package recovery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"

	"github.com/dmitrijs2005/fidolock/internal/common"
	"github.com/dmitrijs2005/fidolock/internal/secmem"
)

// KeySize is the recovery key entropy in bytes.
const KeySize = 32

// groupSize is the chunk length used when rendering the base58 form.
const groupSize = 5

// ErrBadKey is returned by Parse for input in neither format.
var ErrBadKey = errors.New("unrecognized recovery key")

// Key is a generated recovery key. The entropy lives in a locked buffer
// until Destroy; destroy it once enrolled and printed.
type Key struct {
	buf *secmem.Buffer
}

// Generate returns a fresh random key.
func Generate() *Key {
	return &Key{buf: secmem.Adopt(common.GenerateRandByteArray(KeySize))}
}

// Bytes returns the raw entropy, which is the slot passphrase. The slice
// is owned by the key and dies with it.
func (k *Key) Bytes() []byte { return k.buf.Bytes() }

// Base58 renders the key as dash-separated base58 groups.
func (k *Key) Base58() string {
	enc := base58.Encode(k.buf.Bytes())
	var b strings.Builder
	for i, r := range enc {
		if i > 0 && i%groupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Mnemonic renders the key as a BIP39 word sequence.
func (k *Key) Mnemonic() (string, error) {
	m, err := bip39.NewMnemonic(k.buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("render mnemonic: %w", err)
	}
	return m, nil
}

// Destroy wipes and unlocks the entropy.
func (k *Key) Destroy() {
	k.buf.Destroy()
}

// Parse turns a typed recovery key back into the enrolled entropy. Input
// with spaces is treated as a mnemonic (case-insensitive); anything else as
// the base58 form with separators and stray whitespace ignored.
func Parse(input string) ([]byte, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, ErrBadKey
	}

	if strings.ContainsAny(trimmed, " \t\n") {
		words := strings.ToLower(strings.Join(strings.Fields(trimmed), " "))
		entropy, err := bip39.EntropyFromMnemonic(words)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
		}
		return entropy, nil
	}

	compact := strings.ReplaceAll(trimmed, "-", "")
	entropy, err := base58.Decode(compact)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if len(entropy) != KeySize {
		return nil, fmt.Errorf("%w: wrong length", ErrBadKey)
	}
	return entropy, nil
}
