// Package copyplan classifies every file entry in a manifest into the work
// the copy executor (C6) must perform and emits it as a deterministically
// ordered list of jobs.
//
// Grounded on the teacher's pkg/planner/planner.go: a pure function from
// inputs (here, a manifest plus options) to an ordered plan struct, with no
// I/O of its own.
package copyplan

import (
	"path"
	"sort"

	"github.com/pixelgardenlabs/pgl-backup/pkg/manifest"
)

// Kind is the classification a file entry receives.
type Kind int

const (
	// Skip means the entry has a reference and hard-link mode is off: the
	// byte content already exists under the reference label, no copy or
	// link is made, the manifest entry alone records the reuse.
	Skip Kind = iota
	// HardLink means the entry has a reference and hard-link mode is on: a
	// hard link is created from the reference backup's copy.
	HardLink
	// ChecksumOnly means a resumed temp file is already correctly present
	// and checksum recording is enabled in hard-link mode: only re-hash it.
	ChecksumOnly
	// Copy is the default: copy source to temp, optionally compressing and
	// hashing the destination.
	Copy
)

// Job is one unit of C6's work.
type Job struct {
	Level         string
	RelPath       string
	Kind          Kind
	Size          int64
	Reference     string // set for HardLink and Skip
	TablespaceIdx int
}

// Options controls classification; it mirrors the relevant backup.option
// values recorded on the manifest being built.
type Options struct {
	HardLink bool
	Checksum bool
}

// Plan walks every *:file entry across all levels of m and returns the
// ordered job list, sorted by (tablespaceIdx, size, fileSeq) so iteration
// order is deterministic and C6's size-aware partitioning is stable across
// runs with identical inputs.
func Plan(m *manifest.Manifest, opts Options) []Job {
	return orderJobs(sortedLevelNames(m), m, opts)
}

func classify(entry manifest.FileEntry, opts Options) Kind {
	switch {
	case entry.Reference != "" && opts.HardLink:
		return HardLink
	case entry.Reference != "":
		return Skip
	case entry.Exists && opts.Checksum && opts.HardLink:
		return ChecksumOnly
	default:
		return Copy
	}
}

type withSeq struct {
	Job
	seq int
}

// orderJobs builds the full job list with a per-entry fileSeq (its index in
// sorted-name order within the level) and sorts the result by the
// (tablespaceIdx, size, fileSeq) key.
func orderJobs(levels []string, m *manifest.Manifest, opts Options) []Job {
	var entries []withSeq
	for idx, level := range levels {
		lvl := m.Levels[level]
		names := make([]string, 0, len(lvl.Files))
		for name := range lvl.Files {
			names = append(names, name)
		}
		sort.Strings(names)

		for seq, name := range names {
			entry := lvl.Files[name]
			entries = append(entries, withSeq{
				Job: Job{
					Level:         level,
					RelPath:       path.Join(level, name),
					Kind:          classify(entry, opts),
					Size:          entry.Size,
					Reference:     entry.Reference,
					TablespaceIdx: idx,
				},
				seq: seq,
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.TablespaceIdx != b.TablespaceIdx {
			return a.TablespaceIdx < b.TablespaceIdx
		}
		if a.Size != b.Size {
			return a.Size < b.Size
		}
		return a.seq < b.seq
	})

	jobs := make([]Job, len(entries))
	for i, e := range entries {
		jobs[i] = e.Job
	}
	return jobs
}

// sortedLevelNames orders levels with "base" first, then "tablespace:NAME"
// levels alphabetically by name, giving each a stable TablespaceIdx.
func sortedLevelNames(m *manifest.Manifest) []string {
	var tablespaces []string
	hasBase := false
	for level := range m.Levels {
		if level == "base" {
			hasBase = true
			continue
		}
		tablespaces = append(tablespaces, level)
	}
	sort.Strings(tablespaces)

	levels := make([]string, 0, len(tablespaces)+1)
	if hasBase {
		levels = append(levels, "base")
	}
	levels = append(levels, tablespaces...)
	return levels
}
