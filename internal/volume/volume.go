// Package volume defines the contract for encrypted-volume containers: a
// set of key slots that each wrap the volume master key under a passphrase,
// plus free-form JSON token metadata describing how those passphrases can
// be reproduced. Implementations live in subpackages; luksvol is the
// file-backed one.
package volume

import (
	"encoding/json"
	"errors"
)

var (
	// ErrNoFreeSlot means every key slot is occupied.
	ErrNoFreeSlot = errors.New("no free key slot")
	// ErrWrongPassphrase means the passphrase opened no key slot.
	ErrWrongPassphrase = errors.New("passphrase does not open any key slot")
	// ErrSlotNotFound means the named key slot does not exist.
	ErrSlotNotFound = errors.New("key slot not found")
	// ErrTokenNotFound means the named token does not exist.
	ErrTokenNotFound = errors.New("token not found")
	// ErrKeyMismatch means a candidate master key does not match the
	// header digest.
	ErrKeyMismatch = errors.New("key does not match volume digest")
	// ErrHeaderCorrupt means the header failed structural or digest
	// validation.
	ErrHeaderCorrupt = errors.New("volume header corrupt")
)

// Container is an open volume header.
//
// Mutations are in-memory until Save; callers sequence Save calls to
// control what reaches disk when. Byte-slice results carry key material and
// must be wiped by the caller.
type Container interface {
	// UUID returns the volume identity, stable across header rewrites.
	UUID() string
	// Node returns the device node or backing path, for display.
	Node() string

	// SetMinimalKDF makes the next AddSlotByKey use the cheapest key
	// derivation, then resets. Meant for slots whose passphrase already
	// carries full key entropy.
	SetMinimalKDF()
	// AddSlotByKey wraps masterKey under passphrase in the lowest free
	// slot and returns its number. The key must match the header digest.
	AddSlotByKey(masterKey, passphrase []byte) (int, error)
	// UnwrapSlot recovers the master key from one specific slot.
	UnwrapSlot(slot int, passphrase []byte) ([]byte, error)
	// UnwrapAnySlot tries every slot in order and returns the master key
	// and the slot that opened.
	UnwrapAnySlot(passphrase []byte) ([]byte, int, error)
	// RemoveSlot deletes a key slot.
	RemoveSlot(slot int) error

	// AddToken stores a metadata object and returns its token ID. The
	// object must carry a "type" field and a "keyslots" reference list.
	AddToken(raw json.RawMessage) (int, error)
	// Tokens returns all stored metadata objects keyed by token ID.
	Tokens() map[int]json.RawMessage
	// RemoveToken deletes a token.
	RemoveToken(id int) error

	// Save persists the current in-memory state.
	Save() error
	// Close releases the header lock.
	Close() error
}
