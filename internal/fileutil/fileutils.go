// Package fileutil holds the local filesystem helpers used by the exchange:
// path joining shared by local and remote paths, directory creation,
// temp-then-rename replacement and the producer lock probe.
package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// TempSuffix is appended to a final local path to name its download temp file.
const TempSuffix = ".tmp"

// JoinPath joins a directory and a file name for either a local or a remote
// path. Only the join point is normalised: trailing separators on dir are
// dropped and the separator follows the style already used by dir ('\' when
// dir contains backslashes and no slashes, '/' otherwise). A dir made only of
// separators is treated as root.
func JoinPath(dir, name string) string {
	dir = strings.TrimSpace(dir)
	name = strings.TrimSpace(name)

	if dir == "" {
		return name
	}
	if name == "" {
		return dir
	}

	sep := "/"
	if strings.Contains(dir, `\`) && !strings.Contains(dir, "/") {
		sep = `\`
	}

	trimmed := strings.TrimRight(dir, `/\`)
	if trimmed == "" {
		return sep + name
	}
	return trimmed + sep + name
}

// TempPath returns the temp file path placed beside finalPath.
func TempPath(finalPath string) string {
	return finalPath + TempSuffix
}

// EnsureDir creates dir (and parents) when it does not exist yet.
func EnsureDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("local directory path is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}
	return nil
}

// Exists reports whether a regular file or directory is present at path.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ReplaceFile moves tmpPath over finalPath. os.Rename replaces an existing
// target in one step on every supported platform, so finalPath holds either
// its previous content or the complete new file, never a partial one.
func ReplaceFile(tmpPath, finalPath string) error {
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("failed to replace %q: %w", finalPath, err)
	}
	return nil
}

// RemoveIfExists deletes path. A missing file is not an error; the returned
// bool reports whether something was removed.
func RemoveIfExists(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ErrLocked is returned by LockExclusive while another process is still
// writing the file.
var ErrLocked = errors.New("file is locked by another writer")
