// Package clusterfs is the filesystem primitive collaborator named in the
// engine's external interfaces: stat/list/copy/hash/compress/link
// operations against the cluster data directory and the backup repository.
// The engine never touches the operating system directly; it always goes
// through an FS so tests can substitute FakeFS.
package clusterfs

import (
	"os"
	"regexp"
	"time"
)

// PathKind identifies one of the logical roots the engine addresses paths
// relative to.
type PathKind int

const (
	DBAbsolute PathKind = iota
	BackupAbsolute
	BackupCluster
	BackupTmp
	BackupArchive
)

// EntryType classifies a directory entry the way the manifest builder
// needs to: plain file, directory, or symlink.
type EntryType int

const (
	TypeFile EntryType = iota
	TypeDir
	TypeLink
)

// EntryInfo is what List/Manifest-style enumeration needs per entry: enough
// to populate a manifest leaf without a second stat round-trip.
type EntryInfo struct {
	Type            EntryType
	User            string
	Group           string
	Permission      os.FileMode
	Size            int64
	Inode           uint64
	ModTime         int64 // unix seconds
	LinkDestination string
}

// SortOrder controls List's result ordering.
type SortOrder int

const (
	SortNone SortOrder = iota
	SortAsc
)

// CopyResult reports the outcome of Copy, including the missing-source
// case the copy executor must tolerate rather than treat as an error.
type CopyResult struct {
	Missing    bool
	BytesRead  int64
	BytesWritten int64
}

// FS is the filesystem primitive the engine's components are built against.
// A native implementation backs production use; FakeFS backs tests.
type FS interface {
	// PathGet resolves a logical root plus a relative path into an absolute path.
	PathGet(kind PathKind, relPath string) string

	// List enumerates entries directly under path, optionally filtered by re
	// and ordered per order. Returned names are relative to path.
	List(path string, re *regexp.Regexp, order SortOrder) ([]string, error)

	// Manifest stats every entry directly under path (non-recursive) and
	// returns their EntryInfo keyed by name.
	Manifest(path string) (map[string]EntryInfo, error)

	// Copy copies srcPath to dstPath. If ignoreMissing is true and srcPath
	// does not exist, Copy returns a CopyResult with Missing set instead of
	// an error. mode/mtime, when non-nil, are applied to the destination
	// after the copy instead of the source's own metadata.
	Copy(srcPath, dstPath string, srcCompressed, dstCompress, ignoreMissing bool, mode *os.FileMode, mtime *time.Time, createDirs bool) (CopyResult, error)

	// Hash computes a content checksum of path, decompressing first if compressed is true.
	Hash(path string, compressed bool) (string, error)

	// Compress compresses path in place and returns the resulting path (with the format's extension).
	Compress(path string) (string, error)

	// LinkCreate creates a link from dst to src: hard xor soft. If
	// ignoreExisting is true, an existing dst is left alone instead of erroring.
	LinkCreate(src, dst string, hard, soft, ignoreExisting bool) error

	// PathCreate creates path (and parents) with the given permission.
	PathCreate(path string, perm os.FileMode) error

	// Move renames src to dst, relying on filesystem rename atomicity.
	Move(src, dst string) error

	// Remove deletes path. If path is a directory, recursive controls
	// whether its contents are removed along with it; a non-empty
	// directory with recursive false is an error.
	Remove(path string, recursive bool) error

	// Exists reports whether path exists, following symlinks.
	Exists(path string) (bool, error)

	// Clone returns an independent FS suitable for use by copy-executor
	// worker workerIdx: no shared mutable state across workers.
	Clone(workerIdx int) FS
}
