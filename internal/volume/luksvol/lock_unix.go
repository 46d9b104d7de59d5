//go:build linux || darwin

package luksvol

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type headerLock struct {
	f *os.File
}

// acquireLock takes an exclusive flock on a sibling .lock file. The lock
// lives on a separate file because Save replaces the header inode through a
// rename, which would silently drop a lock held on the header itself.
func acquireLock(path string) (*headerLock, error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("volume header %s is locked by another process", path)
		}
		return nil, fmt.Errorf("lock %s: %w", f.Name(), err)
	}
	return &headerLock{f: f}, nil
}

func (l *headerLock) release() {
	if l.f == nil {
		return
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.f.Close()
	l.f = nil
}
