//go:build !windows

package clusterfs

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// statEntry lstats abs (a symlink is described itself, not its target) and
// extracts owner/inode via unix.Lstat, grounded on the teacher's runner_unix.go/preflight_unix.go use of unix.Stat for the
// same purpose.
func statEntry(abs string) (EntryInfo, error) {
	var st unix.Stat_t
	if err := unix.Lstat(abs, &st); err != nil {
		return EntryInfo{}, fmt.Errorf("lstat %s: %w", abs, err)
	}

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
		User:            lookupUser(st.Uid),
		Group:           lookupGroup(st.Gid),
		Permission:      info.Mode().Perm(),
		Size:            info.Size(),
		Inode:           st.Ino,
		ModTime:         info.ModTime().Unix(),
		LinkDestination: linkDest,
	}, nil
}

func lookupUser(uid uint32) string {
	if u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10)); err == nil {
		return u.Username
	}
	return strconv.FormatUint(uint64(uid), 10)
}

func lookupGroup(gid uint32) string {
	if g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10)); err == nil {
		return g.Name
	}
	return strconv.FormatUint(uint64(gid), 10)
}
