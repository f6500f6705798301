//go:build !windows

package fileutil

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// LockExclusive takes a non-blocking exclusive advisory lock on an existing
// file and holds it until release is called. The file is never created.
//
// Unix has no portable way to tell whether another process has a file open
// for writing, so only producers that hold a flock while writing are seen
// as busy. A writer that never locks is not detected.
func LockExclusive(path string) (release func(), err error) {
	lock := flock.New(path, flock.SetFlag(os.O_RDONLY))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %q: %w", path, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() { _ = lock.Unlock() }, nil
}
