//go:build windows

package store

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

var acquireFileLockOnce = func(path string) (*os.File, error) {
	lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := lockFileWindows(lockFile); err != nil {
		lockFile.Close()
		if errors.Is(err, errWouldBlock) {
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
	err1 := unlockFileWindows(lockFile)
	err2 := lockFile.Close()
	err3 := os.Remove(path)
	if err3 != nil && os.IsNotExist(err3) {
		err3 = nil
	}
	return errors.Join(err1, err2, err3)
}

func lockFileWindows(f *os.File) error {
	handle := windows.Handle(f.Fd())
	var overlapped windows.Overlapped
	err := windows.LockFileEx(
		handle,
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0,
		1,
		0,
		&overlapped,
	)
	if err != nil {
		if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
			return errWouldBlock
		}
		return fmt.Errorf("LockFileEx failed: %w", err)
	}
	return nil
}

func unlockFileWindows(f *os.File) error {
	handle := windows.Handle(f.Fd())
	var overlapped windows.Overlapped
	if err := windows.UnlockFileEx(handle, 0, 1, 0, &overlapped); err != nil {
		return fmt.Errorf("UnlockFileEx failed: %w", err)
	}
	return nil
}
