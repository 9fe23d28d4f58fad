package store

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/termvcr/termvcr/internal/termvcrerr"
)

// errWouldBlock is returned by the platform lock primitives
// (acquireFileLockOnce) when the lock is already held elsewhere.
var errWouldBlock = errors.New("store: lock would block")

// lockTimeout is the maximum time acquireTapeLock waits for a tape's
// file lock before failing with store-busy.
const lockTimeout = 30 * time.Second

// acquireTapeLock retries acquireFileLockOnce with exponential backoff,
// capped at 500ms between attempts, until it succeeds or lockTimeout
// elapses. A tape held by a concurrent termvcr process (another
// recording run, or tapectl repairing the same file) resolves this way
// instead of failing on the first contended attempt or blocking
// indefinitely.
func acquireTapeLock(lockPath string) (*os.File, error) {
	deadline := time.Now().Add(lockTimeout)
	backoff := 10 * time.Millisecond
	attempt := 0
	for {
		f, err := acquireFileLockOnce(lockPath)
		if err == nil {
			if attempt > 0 {
				slog.Debug("termvcr: acquired tape lock after contention", "path", lockPath, "attempts", attempt+1)
			}
			return f, nil
		}
		if !errors.Is(err, errWouldBlock) {
			return nil, termvcrerr.Wrap(termvcrerr.KindStoreBusy, err, "acquire tape lock %s", lockPath)
		}
		attempt++
		if time.Now().After(deadline) {
			return nil, termvcrerr.New(termvcrerr.KindStoreBusy,
				"timed out after %s waiting for lock on %s", lockTimeout, lockPath)
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 500*time.Millisecond {
			backoff = 500 * time.Millisecond
		}
	}
}
