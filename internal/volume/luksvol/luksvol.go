// Package luksvol implements the volume container as a JSON header file.
//
// The layout follows the LUKS2 model: up to eight key slots, each wrapping
// the same master key under its own passphrase and KDF cost, a token area
// of free-form JSON objects keyed by numeric ID, and a master-key digest
// that lets mutations validate candidate keys without storing the key.
// Writes go through a temp-file rename and a sibling .lock file serializes
// concurrent access.
package luksvol

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/fidolock/internal/common"
	"github.com/dmitrijs2005/fidolock/internal/cryptox"
	"github.com/dmitrijs2005/fidolock/internal/filex"
	"github.com/dmitrijs2005/fidolock/internal/secmem"
	"github.com/dmitrijs2005/fidolock/internal/volume"
)

const (
	// Version is the header format version this package reads and writes.
	Version = 1
	// MaxSlots matches the LUKS2 key slot count.
	MaxSlots = 8
	// MasterKeySize is the volume master key length.
	MasterKeySize = 32
)

type keyslot struct {
	Salt       []byte            `json:"salt"`
	Params     cryptox.KDFParams `json:"params"`
	Nonce      []byte            `json:"nonce"`
	Ciphertext []byte            `json:"ciphertext"`
}

// header is the on-disk JSON document. Slot and token keys are decimal
// strings, as in LUKS2.
type header struct {
	Version  int                        `json:"version"`
	UUID     string                     `json:"uuid"`
	Label    string                     `json:"label,omitempty"`
	Sequence uint64                     `json:"sequence"`
	Digest   *cryptox.Digest            `json:"digest"`
	Keyslots map[string]*keyslot        `json:"keyslots"`
	Tokens   map[string]json.RawMessage `json:"tokens"`
}

// Volume is an open container header. It satisfies volume.Container.
type Volume struct {
	path        string
	lock        *headerLock
	hdr         header
	kdfOverride *cryptox.KDFParams
	minimalKDF  bool
}

var _ volume.Container = (*Volume)(nil)

// FormatOptions tune Format. Zero values pick a random UUID, no label and
// the default KDF cost.
type FormatOptions struct {
	UUID  string
	Label string
	// KDF overrides the derivation cost for slots added through this
	// handle. SetMinimalKDF still wins for the slot it covers.
	KDF *cryptox.KDFParams
}

// Format creates a new header at path with a fresh master key wrapped under
// passphrase in slot 0. It fails if path already exists.
func Format(path string, passphrase []byte, opts FormatOptions) (*Volume, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("volume header already exists at %s", path)
	}

	id := opts.UUID
	if id == "" {
		id = uuid.NewString()
	}
	if opts.KDF != nil && !opts.KDF.Valid() {
		return nil, fmt.Errorf("invalid KDF parameters")
	}

	masterKey := common.GenerateRandByteArray(MasterKeySize)
	defer secmem.Wipe(masterKey)

	lock, err := acquireLock(path)
	if err != nil {
		return nil, err
	}

	v := &Volume{
		path:        path,
		lock:        lock,
		kdfOverride: opts.KDF,
		hdr: header{
			Version:  Version,
			UUID:     id,
			Label:    opts.Label,
			Digest:   cryptox.MakeDigest(masterKey),
			Keyslots: map[string]*keyslot{},
			Tokens:   map[string]json.RawMessage{},
		},
	}

	if _, err := v.AddSlotByKey(masterKey, passphrase); err != nil {
		lock.release()
		return nil, err
	}
	if err := v.Save(); err != nil {
		lock.release()
		return nil, err
	}
	return v, nil
}

// Open loads an existing header and takes the lock.
func Open(path string) (*Volume, error) {
	lock, err := acquireLock(path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("read volume header: %w", err)
	}

	var hdr header
	if err := json.Unmarshal(raw, &hdr); err != nil {
		lock.release()
		return nil, fmt.Errorf("%w: %v", volume.ErrHeaderCorrupt, err)
	}
	if hdr.Version != Version {
		lock.release()
		return nil, fmt.Errorf("%w: unsupported version %d", volume.ErrHeaderCorrupt, hdr.Version)
	}
	if hdr.Digest == nil {
		lock.release()
		return nil, fmt.Errorf("%w: missing master key digest", volume.ErrHeaderCorrupt)
	}
	if hdr.Keyslots == nil {
		hdr.Keyslots = map[string]*keyslot{}
	}
	if hdr.Tokens == nil {
		hdr.Tokens = map[string]json.RawMessage{}
	}

	return &Volume{path: path, lock: lock, hdr: hdr}, nil
}

func (v *Volume) UUID() string { return v.hdr.UUID }

// Node returns the backing path; for file containers that is the closest
// thing to a device node.
func (v *Volume) Node() string { return v.path }

// Label returns the optional human-readable volume name.
func (v *Volume) Label() string { return v.hdr.Label }

func (v *Volume) SetMinimalKDF() { v.minimalKDF = true }

func (v *Volume) AddSlotByKey(masterKey, passphrase []byte) (int, error) {
	if !v.hdr.Digest.Verify(masterKey) {
		return 0, volume.ErrKeyMismatch
	}

	slot := -1
	for i := 0; i < MaxSlots; i++ {
		if _, ok := v.hdr.Keyslots[strconv.Itoa(i)]; !ok {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, volume.ErrNoFreeSlot
	}

	params := cryptox.DefaultKDFParams()
	if v.kdfOverride != nil {
		params = *v.kdfOverride
	}
	if v.minimalKDF {
		params = cryptox.MinimalKDFParams()
		v.minimalKDF = false
	}

	salt := common.GenerateRandByteArray(cryptox.SaltSize)
	key := cryptox.DeriveKey(passphrase, salt, params, cryptox.KeySize)
	defer secmem.Wipe(key)

	nonce, ciphertext, err := cryptox.Seal(key, masterKey)
	if err != nil {
		return 0, fmt.Errorf("wrap master key: %w", err)
	}

	v.hdr.Keyslots[strconv.Itoa(slot)] = &keyslot{
		Salt:       salt,
		Params:     params,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}
	return slot, nil
}

func (v *Volume) UnwrapSlot(slot int, passphrase []byte) ([]byte, error) {
	ks, ok := v.hdr.Keyslots[strconv.Itoa(slot)]
	if !ok {
		return nil, volume.ErrSlotNotFound
	}

	key := cryptox.DeriveKey(passphrase, ks.Salt, ks.Params, cryptox.KeySize)
	defer secmem.Wipe(key)

	masterKey, err := cryptox.Open(key, ks.Nonce, ks.Ciphertext)
	if err != nil {
		return nil, volume.ErrWrongPassphrase
	}
	if !v.hdr.Digest.Verify(masterKey) {
		secmem.Wipe(masterKey)
		return nil, fmt.Errorf("%w: slot %d key fails digest check", volume.ErrHeaderCorrupt, slot)
	}
	return masterKey, nil
}

func (v *Volume) UnwrapAnySlot(passphrase []byte) ([]byte, int, error) {
	for _, slot := range v.slotNumbers() {
		masterKey, err := v.UnwrapSlot(slot, passphrase)
		if err == nil {
			return masterKey, slot, nil
		}
		if !errors.Is(err, volume.ErrWrongPassphrase) {
			return nil, 0, err
		}
	}
	return nil, 0, volume.ErrWrongPassphrase
}

func (v *Volume) RemoveSlot(slot int) error {
	key := strconv.Itoa(slot)
	if _, ok := v.hdr.Keyslots[key]; !ok {
		return volume.ErrSlotNotFound
	}
	delete(v.hdr.Keyslots, key)
	return nil
}

// tokenShape is the minimum a stored token object must carry.
type tokenShape struct {
	Type     string   `json:"type"`
	Keyslots []string `json:"keyslots"`
}

func (v *Volume) AddToken(raw json.RawMessage) (int, error) {
	var shape tokenShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return 0, fmt.Errorf("token is not a JSON object: %w", err)
	}
	if shape.Type == "" {
		return 0, fmt.Errorf("token has no type")
	}

	id := 0
	for {
		if _, ok := v.hdr.Tokens[strconv.Itoa(id)]; !ok {
			break
		}
		id++
	}
	v.hdr.Tokens[strconv.Itoa(id)] = append(json.RawMessage(nil), raw...)
	return id, nil
}

func (v *Volume) Tokens() map[int]json.RawMessage {
	out := make(map[int]json.RawMessage, len(v.hdr.Tokens))
	for key, raw := range v.hdr.Tokens {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		out[id] = append(json.RawMessage(nil), raw...)
	}
	return out
}

func (v *Volume) RemoveToken(id int) error {
	key := strconv.Itoa(id)
	if _, ok := v.hdr.Tokens[key]; !ok {
		return volume.ErrTokenNotFound
	}
	delete(v.hdr.Tokens, key)
	return nil
}

func (v *Volume) Save() error {
	v.hdr.Sequence++
	raw, err := json.MarshalIndent(&v.hdr, "", "  ")
	if err != nil {
		v.hdr.Sequence--
		return fmt.Errorf("encode volume header: %w", err)
	}
	if err := filex.WriteFileAtomic(v.path, raw, 0o600); err != nil {
		v.hdr.Sequence--
		return fmt.Errorf("write volume header: %w", err)
	}
	return nil
}

func (v *Volume) Close() error {
	if v.lock != nil {
		v.lock.release()
		v.lock = nil
	}
	return nil
}

func (v *Volume) slotNumbers() []int {
	nums := make([]int, 0, len(v.hdr.Keyslots))
	for key := range v.hdr.Keyslots {
		n, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}
