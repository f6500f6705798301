//go:build windows

package fileutil

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// LockExclusive opens an existing file without write or delete sharing and
// holds the handle until release is called. The open fails with a sharing
// violation while any other process has the file open for writing, which is
// reported as ErrLocked. Read sharing stays allowed so the upload can open
// the file while the handle is held. The file is never created.
func LockExclusive(path string) (release func(), err error) {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %q: %w", path, err)
	}
	h, err := windows.CreateFile(name, windows.GENERIC_READ, windows.FILE_SHARE_READ, nil,
		windows.OPEN_EXISTING, windows.FILE_ATTRIBUTE_NORMAL, 0)
	if err != nil {
		if errors.Is(err, windows.ERROR_SHARING_VIOLATION) || errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to lock %q: %w", path, err)
	}
	return func() { _ = windows.CloseHandle(h) }, nil
}
