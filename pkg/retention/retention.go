// Package retention deletes backups beyond the configured full/differential
// count, then prunes the WAL archive down to the earliest position still
// needed by a retained backup.
//
// Grounded near-directly on the teacher's pkg/pathretention/pathretention.go:
// the "fetch sorted backups, compute a keep-set, delete the rest with a
// worker pool" structure survives unchanged; only the keep-set rule changes,
// from calendar buckets to count-based full/diff retention plus the
// anchor/archive-start WAL-prune rule.
package retention

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pixelgardenlabs/pgl-backup/pkg/backuplabel"
	"github.com/pixelgardenlabs/pgl-backup/pkg/clusterfs"
	"github.com/pixelgardenlabs/pgl-backup/pkg/manifest"
	"github.com/pixelgardenlabs/pgl-backup/pkg/perr"
	"github.com/pixelgardenlabs/pgl-backup/pkg/plog"
)

// Options configures one retention pass.
type Options struct {
	FullKeep      int    // K_f, required, >= 1
	DiffKeep      int    // K_d, 0 disables differential retention
	WALAnchorType string // "full", "diff", "incr", or "" to skip WAL pruning
	WALAnchorKeep int    // K_a, required when WALAnchorType is set
	Workers       int
}

// Summary reports what a retention pass actually removed.
type Summary struct {
	BackupsDeleted  int
	WALDirsDeleted  int
	WALFilesDeleted int
}

var majorDirPattern = regexp.MustCompile(`^[0-9A-Fa-f]{16}$`)

// Apply lists every backup under the cluster root, deletes what full and
// differential retention no longer need, then (if a WAL anchor type is
// configured) prunes the archive down to the anchor backup's archive-start
// position.
func Apply(ctx context.Context, fs clusterfs.FS, opts Options) (Summary, error) {
	var summary Summary
	if opts.FullKeep < 1 {
		return summary, fmt.Errorf("%w: full retention count must be >= 1", perr.ErrParam)
	}
	if opts.DiffKeep != 0 && opts.DiffKeep < 1 {
		return summary, fmt.Errorf("%w: differential retention count must be >= 1 when set", perr.ErrParam)
	}
	if opts.WALAnchorType != "" && opts.WALAnchorKeep < 1 {
		return summary, fmt.Errorf("%w: WAL anchor retention count must be >= 1 when set", perr.ErrParam)
	}

	labels, err := listLabels(fs)
	if err != nil {
		return summary, err
	}

	fullVictims := fullRetentionVictims(labels, opts.FullKeep)
	labels = subtract(labels, fullVictims)

	diffVictims := diffRetentionVictims(labels, opts.DiffKeep)
	labels = subtract(labels, diffVictims)

	toDelete := append(fullVictims, diffVictims...)
	sort.Sort(sort.Reverse(sort.StringSlice(toDelete)))

	deleted, err := deleteBackups(ctx, fs, toDelete, opts.Workers)
	summary.BackupsDeleted = deleted
	if err != nil {
		return summary, err
	}

	if opts.WALAnchorType == "" {
		plog.Info("WAL anchor retention type not set, archive left unpruned")
		return summary, nil
	}

	anchor, ok := findAnchor(labels, opts.WALAnchorType, opts.WALAnchorKeep)
	if !ok {
		plog.Info("no WAL anchor backup found, archive left unpruned")
		return summary, nil
	}

	dirs, files, err := pruneWAL(fs, anchor)
	summary.WALDirsDeleted = dirs
	summary.WALFilesDeleted = files
	return summary, err
}

func listLabels(fs clusterfs.FS) ([]string, error) {
	re, err := backuplabel.Predicate(true, true, true)
	if err != nil {
		return nil, err
	}
	root := fs.PathGet(clusterfs.BackupCluster, "")
	names, err := fs.List(root, re, clusterfs.SortNone)
	if err != nil {
		return nil, fmt.Errorf("retention: list %s: %w", root, err)
	}
	return names, nil
}

func subtract(labels, remove []string) []string {
	excluded := make(map[string]bool, len(remove))
	for _, l := range remove {
		excluded[l] = true
	}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if !excluded[l] {
			out = append(out, l)
		}
	}
	return out
}

// fullRetentionVictims keeps the K_f most recent full backups and returns
// every older full plus every derived backup whose ancestor is one of
// those older fulls.
func fullRetentionVictims(labels []string, keep int) []string {
	sorted := append([]string(nil), labels...)
	sort.Sort(sort.Reverse(sort.StringSlice(sorted)))

	var fulls []string
	for _, l := range sorted {
		if backuplabel.IsFull(l) {
			fulls = append(fulls, l)
		}
	}
	if len(fulls) <= keep {
		return nil
	}
	doomed := make(map[string]bool)
	for _, f := range fulls[keep:] {
		doomed[f] = true
	}

	var victims []string
	for _, l := range sorted {
		ancestor, err := backuplabel.AncestorFull(l)
		if err != nil {
			continue
		}
		if doomed[ancestor] {
			victims = append(victims, l)
		}
	}
	return victims
}

// diffRetentionVictims locates the K_d-th most recent surviving diff and
// deletes every diff or incr backup sorting strictly before it.
func diffRetentionVictims(labels []string, keep int) []string {
	if keep <= 0 {
		return nil
	}
	sorted := append([]string(nil), labels...)
	sort.Sort(sort.Reverse(sort.StringSlice(sorted)))

	var diffs []string
	for _, l := range sorted {
		if backuplabel.IsDiff(l) {
			diffs = append(diffs, l)
		}
	}
	if len(diffs) < keep {
		return nil
	}
	anchor := diffs[keep-1]

	var victims []string
	for _, l := range sorted {
		if !backuplabel.IsDiff(l) && !backuplabel.IsIncr(l) {
			continue
		}
		if l < anchor {
			victims = append(victims, l)
		}
	}
	return victims
}

func deleteBackups(ctx context.Context, fs clusterfs.FS, labels []string, workers int) (int, error) {
	if len(labels) == 0 {
		return 0, nil
	}
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan string, workers*2)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var deleted int
	var firstErr error

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for label := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				abs := fs.PathGet(clusterfs.BackupCluster, label)
				plog.Notice("DELETE", "backup", label)
				if err := fs.Remove(abs, true); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("retention: delete %s: %w", label, err)
					}
					mu.Unlock()
					continue
				}
				mu.Lock()
				deleted++
				mu.Unlock()
			}
		}()
	}

	for _, label := range labels {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return deleted, ctx.Err()
		case jobs <- label:
		}
	}
	close(jobs)
	wg.Wait()
	return deleted, firstErr
}

// findAnchor picks the K_a-th most recent backup of anchorType (by reverse
// label order); if none exists and anchorType is full, falls back to the
// oldest surviving full.
func findAnchor(labels []string, anchorType string, keep int) (string, bool) {
	sorted := append([]string(nil), labels...)
	sort.Sort(sort.Reverse(sort.StringSlice(sorted)))

	var matching []string
	for _, l := range sorted {
		if matchesType(l, anchorType) {
			matching = append(matching, l)
		}
	}
	if keep-1 < len(matching) {
		return matching[keep-1], true
	}
	if anchorType == "full" {
		var fulls []string
		for _, l := range sorted {
			if backuplabel.IsFull(l) {
				fulls = append(fulls, l)
			}
		}
		if len(fulls) > 0 {
			return fulls[len(fulls)-1], true
		}
	}
	return "", false
}

func matchesType(label, anchorType string) bool {
	switch anchorType {
	case "full":
		return backuplabel.IsFull(label)
	case "diff":
		return backuplabel.IsDiff(label)
	case "incr":
		return backuplabel.IsIncr(label)
	default:
		return false
	}
}

func pruneWAL(fs clusterfs.FS, anchorLabel string) (dirsDeleted, filesDeleted int, err error) {
	manifestPath := fs.PathGet(clusterfs.BackupCluster, path.Join(anchorLabel, "backup.manifest"))
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return 0, 0, fmt.Errorf("retention: load anchor manifest %s: %w", manifestPath, err)
	}
	anchor := m.ArchiveStart
	if anchor == "" {
		plog.Info("anchor backup has no recorded archive-start, archive left unpruned", "backup", anchorLabel)
		return 0, 0, nil
	}
	if len(anchor) < 24 {
		return 0, 0, fmt.Errorf("%w: archive-start %q too short to prune by", perr.ErrAssert, anchor)
	}
	majorCutoff, fileCutoff := anchor[:16], anchor[:24]

	archiveRoot := fs.PathGet(clusterfs.BackupArchive, "")
	entries, err := fs.Manifest(archiveRoot)
	if err != nil {
		return 0, 0, fmt.Errorf("retention: list archive root %s: %w", archiveRoot, err)
	}

	for name, info := range entries {
		if info.Type != clusterfs.TypeDir || !majorDirPattern.MatchString(name) {
			continue
		}
		switch {
		case name < majorCutoff:
			if err := fs.Remove(path.Join(archiveRoot, name), true); err != nil {
				return dirsDeleted, filesDeleted, fmt.Errorf("retention: prune archive dir %s: %w", name, err)
			}
			dirsDeleted++
		case name == majorCutoff:
			n, err := pruneMajorDir(fs, path.Join(archiveRoot, name), fileCutoff)
			if err != nil {
				return dirsDeleted, filesDeleted, err
			}
			filesDeleted += n
		}
	}
	return dirsDeleted, filesDeleted, nil
}

func pruneMajorDir(fs clusterfs.FS, dirAbs, fileCutoff string) (int, error) {
	entries, err := fs.Manifest(dirAbs)
	if err != nil {
		return 0, fmt.Errorf("retention: list %s: %w", dirAbs, err)
	}
	var deleted int
	for name, info := range entries {
		if info.Type != clusterfs.TypeFile {
			continue
		}
		if len(name) < 24 {
			continue
		}
		if strings.Compare(name[:24], fileCutoff) < 0 {
			if err := fs.Remove(path.Join(dirAbs, name), false); err != nil {
				return deleted, fmt.Errorf("retention: prune archive file %s: %w", name, err)
			}
			deleted++
		}
	}
	return deleted, nil
}
