package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
)

// RenameError wraps a rename error with the temporary file path, for
// tests that need to assert the atomic-write invariant (target file is
// either fully present or absent, never partial).
type RenameError struct {
	Err      error
	tempPath string
}

func (e RenameError) Error() string    { return e.Err.Error() }
func (e RenameError) TempPath() string { return e.tempPath }
func (e RenameError) Unwrap() error    { return e.Err }

// testHookCrashBeforeRename lets tests simulate a crash between the
// temp-file write and the atomic rename, to verify no partial file is
// ever visible at the target path.
var testHookCrashBeforeRename func()

func setTestHookCrashBeforeRename(hook func()) {
	testHookCrashBeforeRename = hook
}

// atomicWriteFile writes data to filename via a temp file in the same
// directory, fsync, chmod, then an atomic rename over the target.
func atomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create tape directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-tape-*")
	if err != nil {
		return fmt.Errorf("create temp tape file: %w", err)
	}

	var success bool
	defer func() {
		if !success {
			if err := os.Remove(tempFile.Name()); err != nil && !os.IsNotExist(err) {
				slog.Warn("failed to remove temporary tape file", "path", tempFile.Name(), "error", err)
			}
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write temp tape file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync temp tape file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp tape file %q: %w", tempFile.Name(), err)
	}
	if err := os.Chmod(tempFile.Name(), perm); err != nil {
		return fmt.Errorf("chmod temp tape file: %w", err)
	}

	if testHookCrashBeforeRename != nil {
		testHookCrashBeforeRename()
	}

	var renameErr error
	if runtime.GOOS == "windows" {
		renameErr = atomicRenameWindows(tempFile.Name(), filename)
	} else {
		renameErr = os.Rename(tempFile.Name(), filename)
	}

	if renameErr != nil {
		return RenameError{Err: renameErr, tempPath: tempFile.Name()}
	}
	success = true

	// A recorded tape must survive a crash of the recording process the
	// instant after Write returns, so the rename itself is fsynced too;
	// os.Rename alone only guarantees ordering, not durability, on most
	// filesystems.
	if runtime.GOOS != "windows" {
		if dirFile, err := os.Open(dir); err == nil {
			_ = dirFile.Sync()
			dirFile.Close()
		}
	}
	return nil
}
