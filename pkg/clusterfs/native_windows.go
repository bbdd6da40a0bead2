//go:build windows

package clusterfs

import (
	"fmt"
	"os"
)

// statEntry stats abs using the portable os.Stat path. Windows has no
// meaningful inode equivalent usable the same way as POSIX, so Inode is
// left zero; the unchanged-predicate in the manifest builder falls back to
// size+mtime alone on this platform, mirroring the teacher's
// runner_windows.go fallback for the same limitation.
func statEntry(abs string) (EntryInfo, error) {
	info, err := os.Lstat(abs)
	if err != nil {
		return EntryInfo{}, fmt.Errorf("lstat %s: %w", abs, err)
	}

	entryType := TypeFile
	var linkDest string
	switch {
	case info.IsDir():
		entryType = TypeDir
	case info.Mode()&os.ModeSymlink != 0:
		entryType = TypeLink
		linkDest, err = os.Readlink(abs)
		if err != nil {
			return EntryInfo{}, fmt.Errorf("readlink %s: %w", abs, err)
		}
	}

	return EntryInfo{
		Type:            entryType,
		User:            "",
		Group:           "",
		Permission:      info.Mode().Perm(),
		Size:            info.Size(),
		Inode:           0,
		ModTime:         info.ModTime().Unix(),
		LinkDestination: linkDest,
	}, nil
}
