// Package fsutil supplies the host directory/file primitives the store
// needs for level layout on disk: existence checks, directory creation
// and removal, file removal, and sorted directory listing.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DirExists reports whether path exists and is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Mkdir creates path and any missing parents.
func Mkdir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("fsutil: mkdir %s: %w", path, err)
	}
	return nil
}

// RemoveDir removes path and its contents.
func RemoveDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("fsutil: rmdir %s: %w", path, err)
	}
	return nil
}

// RemoveFile unlinks path. It is not an error if path is already gone.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fsutil: rmfile %s: %w", path, err)
	}
	return nil
}

// ScanDir returns the sorted base names of path's entries, or nil if path
// does not exist.
func ScanDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fsutil: scandir %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Join is a thin filepath.Join re-export so callers need only import
// fsutil for path work in addition to directory primitives.
func Join(elem ...string) string {
	return filepath.Join(elem...)
}
