//go:build !linux && !darwin

package secmem

func lockMemory(b []byte) error   { return nil }
func unlockMemory(b []byte) error { return nil }
