// Package walarchive derives the sequence of WAL segment names a backup
// must collect between its start and stop positions, and copies each one
// out of the archive directory into the temp backup tree.
//
// Grounded on the teacher's pkg/patharchive/patharchive.go for the
// wait-then-move shape of archiving a unit of work into permanent storage,
// adapted from calendar-interval buckets to timeline/major/minor segment
// arithmetic, and on other_examples/woblerr-pgbackrest_exporter's
// archive.min/archive.max fields for the WAL-range vocabulary.
package walarchive

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/pixelgardenlabs/pgl-backup/pkg/clusterfs"
	"github.com/pixelgardenlabs/pgl-backup/pkg/perr"
	"github.com/pixelgardenlabs/pgl-backup/pkg/plog"
)

// segmentPattern matches a WAL segment name: timeline, major, minor, each 8
// hex characters.
var segmentPattern = regexp.MustCompile(`^([0-9A-Fa-f]{8})([0-9A-Fa-f]{8})([0-9A-Fa-f]{8})$`)

// Position is a single WAL segment coordinate.
type Position struct {
	Timeline string // 8 hex chars
	Major    uint32
	Minor    uint32
}

// ParsePosition splits a 24-hex-char segment name into its timeline, major
// and minor components.
func ParsePosition(seg string) (Position, error) {
	m := segmentPattern.FindStringSubmatch(seg)
	if m == nil {
		return Position{}, fmt.Errorf("%w: malformed WAL segment name %q", perr.ErrParam, seg)
	}
	var major, minor uint32
	if _, err := fmt.Sscanf(m[2], "%08x", &major); err != nil {
		return Position{}, fmt.Errorf("%w: WAL segment major %q: %v", perr.ErrParam, m[2], err)
	}
	if _, err := fmt.Sscanf(m[3], "%08x", &minor); err != nil {
		return Position{}, fmt.Errorf("%w: WAL segment minor %q: %v", perr.ErrParam, m[3], err)
	}
	return Position{Timeline: m[1], Major: major, Minor: minor}, nil
}

// Name renders a Position back into its 24-hex-char segment name.
func (p Position) Name() string {
	return fmt.Sprintf("%s%08X%08X", p.Timeline, p.Major, p.Minor)
}

// Range derives the ordered segment name list between start and stop
// inclusive. Both must share a timeline. minor increments by 1 per step;
// it rolls over to the next major at 256, or at 255 when skipFF is true
// (modeling database versions that never wrote the minor value 0xFF).
func Range(start, stop string, skipFF bool) ([]string, error) {
	s, err := ParsePosition(start)
	if err != nil {
		return nil, err
	}
	e, err := ParsePosition(stop)
	if err != nil {
		return nil, err
	}
	if s.Timeline != e.Timeline {
		return nil, fmt.Errorf("%w: WAL range spans timelines %s and %s", perr.ErrAssert, s.Timeline, e.Timeline)
	}

	rollover := uint32(256)
	if skipFF {
		rollover = 255
	}

	var segs []string
	cur := s
	for {
		segs = append(segs, cur.Name())
		if cur.Major == e.Major && cur.Minor == e.Minor {
			return segs, nil
		}
		cur.Minor++
		if cur.Minor >= rollover {
			cur.Minor = 0
			cur.Major++
		}
	}
}

// WaitTimeout is the per-segment archive wait. The engine sets it from the
// configured WAL wait timeout; tests override it directly.
var WaitTimeout = 600 * time.Second

const pollInterval = time.Second

// Collect waits for and copies every segment in segs out of the archive
// directory into base/pg_xlog/<seg> under the temp backup, decompressing
// per the source's extension and recompressing per compress.
func Collect(ctx context.Context, fs clusterfs.FS, segs []string, compressExt string, compress bool) error {
	for _, seg := range segs {
		if err := collectOne(ctx, fs, seg, compressExt); err != nil {
			return err
		}
		if err := copySegment(fs, seg, compressExt, compress); err != nil {
			return err
		}
	}
	return nil
}

func collectOne(ctx context.Context, fs clusterfs.FS, seg, compressExt string) error {
	deadline := time.Now().Add(WaitTimeout)
	re := segmentFilePattern(seg, compressExt)
	archiveDir := fs.PathGet(clusterfs.BackupArchive, seg[:16])

	for {
		matches, err := fs.List(archiveDir, re, clusterfs.SortNone)
		if err != nil {
			return fmt.Errorf("wal collect: list %s: %w", archiveDir, err)
		}
		switch len(matches) {
		case 1:
			return nil
		case 0:
			// keep waiting
		default:
			return fmt.Errorf("%w: %d files in %s match segment %s", perr.ErrAssert, len(matches), archiveDir, seg)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: timed out waiting for WAL segment %s", perr.ErrProtocol, seg)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func segmentFilePattern(seg, compressExt string) *regexp.Regexp {
	pattern := "^" + regexp.QuoteMeta(seg) + `(-[0-9a-f]+)?`
	if compressExt != "" {
		pattern += `(\.` + regexp.QuoteMeta(compressExt) + `)?`
	}
	pattern += "$"
	return regexp.MustCompile(pattern)
}

func copySegment(fs clusterfs.FS, seg, compressExt string, compress bool) error {
	archiveDir := fs.PathGet(clusterfs.BackupArchive, seg[:16])
	re := segmentFilePattern(seg, compressExt)
	matches, err := fs.List(archiveDir, re, clusterfs.SortNone)
	if err != nil {
		return fmt.Errorf("wal collect: list %s: %w", archiveDir, err)
	}
	if len(matches) != 1 {
		return fmt.Errorf("%w: expected exactly one match for %s, found %d", perr.ErrAssert, seg, len(matches))
	}

	srcName := matches[0]
	srcCompressed := compressExt != "" && path.Ext(srcName) == "."+compressExt
	srcPath := path.Join(archiveDir, srcName)
	dstPath := fs.PathGet(clusterfs.BackupTmp, path.Join("base", "pg_xlog", seg))

	if _, err := fs.Copy(srcPath, dstPath, srcCompressed, compress, false, nil, nil, true); err != nil {
		return fmt.Errorf("wal collect: copy %s: %w", seg, err)
	}
	plog.Notice("WAL", "segment", seg)
	return nil
}
