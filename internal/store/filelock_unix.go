//go:build !windows

package store

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// acquireFileLockOnce attempts a single, non-blocking exclusive lock
// acquisition on path. acquireTapeLock owns the retry-with-backoff
// loop against the store-busy timeout; this function never blocks.
var acquireFileLockOnce = func(path string) (*os.File, error) {
	lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errWouldBlock
		}
		return nil, fmt.Errorf("acquire file lock: %w", err)
	}

	return lockFile, nil
}

func releaseFileLock(lockFile *os.File) error {
	if lockFile == nil {
		return nil
	}
	path := lockFile.Name()
	unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
	err1 := lockFile.Close()
	err2 := os.Remove(path)
	if err2 != nil && os.IsNotExist(err2) {
		err2 = nil
	}
	return errors.Join(err1, err2)
}
