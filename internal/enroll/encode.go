package enroll

import "encoding/base64"

// EncodePassphrase turns a device-derived secret into the passphrase form
// stored in a key slot. Both enrollment and unlock go through this exact
// function; the two sides must produce identical bytes or the slot will
// never open again. The base64 form also keeps the passphrase typeable in
// an emergency.
func EncodePassphrase(secret []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(secret)))
	base64.StdEncoding.Encode(out, secret)
	return out
}
