// Package hidtoken opens USB HID authenticators through libfido2. The cgo
// binding is gated behind the libfido2 build tag so that builds without the
// C library still link; without the tag Open fails with ErrUnsupported and
// callers fall back to a software token.
package hidtoken

import (
	"errors"

	"github.com/dmitrijs2005/fidolock/internal/fido2"
)

// ErrUnsupported is returned by Open when the binary was built without the
// libfido2 build tag.
var ErrUnsupported = errors.New("built without libfido2 support")

// Open returns a device handle for the authenticator at path, or for the
// first attached authenticator when path is empty.
func Open(path string) (fido2.Device, error) {
	return open(path)
}
