package hare

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// acquireFileLock takes an exclusive, non-blocking advisory lock on f,
// retrying until it succeeds or timeout elapses. Open() is required to
// acquire an exclusive advisory lock with a bounded timeout, failing
// FileLocked otherwise; the original reference package took no file lock
// at all (single-process demo tool), so this is filled in from
// golang.org/x/sys/unix.Flock.
func acquireFileLock(f *os.File, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: could not lock %s within %s", ErrFileLocked, f.Name(), timeout)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// releaseFileLock drops the advisory lock taken by acquireFileLock.
func releaseFileLock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
