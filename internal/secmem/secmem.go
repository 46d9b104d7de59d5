// Package secmem holds secret key material in buffers that are wiped on
// every exit path. Callers allocate (or adopt) a Buffer, defer Destroy, and
// read the bytes through Bytes. Destroy overwrites the backing array with
// zeros before releasing it, so a secret never outlives its use even when
// the surrounding call fails early.
//
// On platforms that support it the backing array is additionally locked into
// RAM (mlock) so secrets are not written to swap.
package secmem

// Buffer owns a secret byte slice. The zero value is an empty, destroyed
// buffer.
type Buffer struct {
	b      []byte
	locked bool
}

// New allocates a Buffer of n zeroed bytes.
func New(n int) *Buffer {
	buf := &Buffer{b: make([]byte, n)}
	buf.locked = lockMemory(buf.b) == nil
	return buf
}

// Adopt takes ownership of b. The caller must not use b afterwards; the
// bytes will be wiped when the Buffer is destroyed.
func Adopt(b []byte) *Buffer {
	buf := &Buffer{b: b}
	if len(b) > 0 {
		buf.locked = lockMemory(buf.b) == nil
	}
	return buf
}

// Copy allocates a Buffer holding a private copy of b. The source slice is
// left untouched and remains the caller's responsibility.
func Copy(b []byte) *Buffer {
	buf := New(len(b))
	copy(buf.b, b)
	return buf
}

// Bytes exposes the secret. The returned slice aliases the buffer's backing
// array; it must not be retained past Destroy.
func (buf *Buffer) Bytes() []byte {
	if buf == nil {
		return nil
	}
	return buf.b
}

// Len returns the secret length in bytes.
func (buf *Buffer) Len() int {
	if buf == nil {
		return 0
	}
	return len(buf.b)
}

// Destroy wipes the secret and releases the buffer. It is safe to call on a
// nil Buffer and safe to call more than once.
func (buf *Buffer) Destroy() {
	if buf == nil || buf.b == nil {
		return
	}
	Wipe(buf.b)
	if buf.locked {
		_ = unlockMemory(buf.b)
		buf.locked = false
	}
	buf.b = nil
}

// Wipe overwrites the contents of the provided byte slice with zeros. This
// is useful for removing sensitive data such as passphrases or derived keys
// from memory after use.
//
// If the slice is nil, the function does nothing.
func Wipe(b []byte) {
	if b == nil {
		return
	}
	for i := range b {
		b[i] = 0
	}
}
