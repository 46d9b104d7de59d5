//go:build !libfido2

package hidtoken

import "github.com/dmitrijs2005/fidolock/internal/fido2"

func open(string) (fido2.Device, error) {
	return nil, ErrUnsupported
}
