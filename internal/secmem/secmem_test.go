package secmem

import (
	"bytes"
	"testing"
)

func TestWipe_ZerosBuffer(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	Wipe(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("expected buf[%d]==0, got %d", i, v)
		}
	}
}

func TestWipe_NilSafe(t *testing.T) {
	Wipe(nil)
}

func TestAdopt_DestroyZerosBackingArray(t *testing.T) {
	raw := []byte("super-secret")
	// держим ссылку на исходный массив
	backing := raw

	buf := Adopt(raw)
	if !bytes.Equal(buf.Bytes(), []byte("super-secret")) {
		t.Fatalf("adopted bytes differ")
	}

	buf.Destroy()

	for i, v := range backing {
		if v != 0 {
			t.Fatalf("backing[%d] not wiped: %d", i, v)
		}
	}
	if buf.Bytes() != nil {
		t.Fatalf("expected nil bytes after destroy")
	}
	if buf.Len() != 0 {
		t.Fatalf("expected zero length after destroy")
	}
}

func TestCopy_SourceUntouched(t *testing.T) {
	src := []byte{9, 9, 9}
	buf := Copy(src)
	buf.Destroy()

	if !bytes.Equal(src, []byte{9, 9, 9}) {
		t.Fatalf("source slice was modified: %v", src)
	}
}

func TestDestroy_Idempotent(t *testing.T) {
	buf := New(8)
	buf.Destroy()
	buf.Destroy() // не должно паниковать

	var nilBuf *Buffer
	nilBuf.Destroy()
	if nilBuf.Bytes() != nil || nilBuf.Len() != 0 {
		t.Fatalf("nil buffer accessors must be safe")
	}
}

func TestNew_ZeroFilled(t *testing.T) {
	buf := New(16)
	defer buf.Destroy()

	if buf.Len() != 16 {
		t.Fatalf("expected length 16, got %d", buf.Len())
	}
	for i, v := range buf.Bytes() {
		if v != 0 {
			t.Fatalf("expected zeroed allocation, byte %d is %d", i, v)
		}
	}
}
