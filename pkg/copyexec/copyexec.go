// Package copyexec runs a copyplan.Job list against the filesystem primitive
// with a size-balanced worker pool, reporting per-file outcomes back to a
// single coordinator that is the only goroutine allowed to mutate the
// manifest.
//
// Grounded on the teacher's pkg/pathsync/nativetask.go producer/worker-pool
// pipeline, rebuilt on golang.org/x/sync/errgroup for cancellation-on-first-
// error: the partitioning here is computed once up front (the work is a
// known, finite job list, not a live directory walk), so there is no
// producer goroutine, only workers operating over pre-assigned slices.
package copyexec

import (
	"context"
	"fmt"
	"math"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pixelgardenlabs/pgl-backup/pkg/clusterfs"
	"github.com/pixelgardenlabs/pgl-backup/pkg/copyplan"
	"github.com/pixelgardenlabs/pgl-backup/pkg/manifest"
	"github.com/pixelgardenlabs/pgl-backup/pkg/perr"
	"github.com/pixelgardenlabs/pgl-backup/pkg/plog"
)

// smallLargeThreshold splits jobs into the small and large bins the
// partitioner deals out separately.
const smallLargeThreshold = 65536

// Options controls one copy pass.
type Options struct {
	Workers  int
	Compress bool
	Checksum bool
	Timeout  time.Duration // 0 means no per-backup deadline
}

// WorkItem is a copyplan.Job resolved to absolute filesystem paths.
type WorkItem struct {
	copyplan.Job
	SrcPath string
	DstPath string
	RefPath string // populated for HardLink jobs
}

// Resolve turns jobs into WorkItems using m's recorded source roots and the
// repository's on-disk layout: base/** and tablespace/<NAME>/** under both
// the temp directory and any referenced backup's own directory.
func Resolve(fs clusterfs.FS, m *manifest.Manifest, jobs []copyplan.Job) []WorkItem {
	items := make([]WorkItem, len(jobs))
	for i, job := range jobs {
		relWithinLevel := strings.TrimPrefix(job.RelPath, job.Level+"/")
		destRel := destRelPath(job.Level, relWithinLevel)

		item := WorkItem{Job: job, DstPath: fs.PathGet(clusterfs.BackupTmp, destRel)}
		if root, ok := m.Paths[job.Level]; ok {
			item.SrcPath = path.Join(root, relWithinLevel)
		}
		if job.Reference != "" {
			item.RefPath = fs.PathGet(clusterfs.BackupCluster, path.Join(job.Reference, destRel))
		}
		items[i] = item
	}
	return items
}

func destRelPath(level, relWithinLevel string) string {
	if level == "base" {
		return path.Join("base", relWithinLevel)
	}
	name := strings.TrimPrefix(level, "tablespace:")
	return path.Join("tablespace", name, relWithinLevel)
}

type msgKind int

const (
	msgRemove msgKind = iota
	msgChecksum
)

// message is a worker's report of a manifest mutation the coordinator must
// apply; workers never touch the manifest directly.
type message struct {
	level    string
	relName  string
	kind     msgKind
	checksum string
}

// Summary reports the aggregate outcome of a Run.
type Summary struct {
	Copied, HardLinked, Skipped, Removed, Checksummed int
}

// Run executes items against fs using opts, mutating m only after every
// worker has finished by draining their back-channels. A worker error
// cancels the remaining workers and aborts the whole run; the caller leaves
// the temp directory in place for a later resume.
func Run(ctx context.Context, fs clusterfs.FS, m *manifest.Manifest, items []WorkItem, opts Options) (Summary, error) {
	var summary Summary
	pending := make([]WorkItem, 0, len(items))
	for _, it := range items {
		if it.Kind == copyplan.Skip {
			summary.Skipped++
			continue
		}
		pending = append(pending, it)
	}
	if len(pending) == 0 {
		return summary, nil
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	workers := workerCount(opts.Workers, len(pending))
	partitions := partition(pending, workers)

	g, gctx := errgroup.WithContext(ctx)
	channels := make([]chan message, len(partitions))

	for i, part := range partitions {
		if len(part) == 0 {
			continue
		}
		ch := make(chan message, len(part))
		channels[i] = ch
		workerFS := fs.Clone(i)
		part := part
		g.Go(func() error {
			defer close(ch)
			return runWorker(gctx, workerFS, part, opts, ch)
		})
	}

	if err := g.Wait(); err != nil {
		return summary, fmt.Errorf("%w: copy executor: %v", perr.ErrProtocol, err)
	}

	for _, ch := range channels {
		if ch == nil {
			continue
		}
		for msg := range ch {
			lvl := m.Levels[msg.level]
			if lvl == nil {
				continue
			}
			switch msg.kind {
			case msgRemove:
				delete(lvl.Files, msg.relName)
				summary.Removed++
			case msgChecksum:
				entry := lvl.Files[msg.relName]
				entry.Checksum = msg.checksum
				lvl.Files[msg.relName] = entry
				summary.Checksummed++
			}
		}
	}

	for _, it := range pending {
		switch it.Kind {
		case copyplan.Copy:
			summary.Copied++
		case copyplan.HardLink:
			summary.HardLinked++
		}
	}
	return summary, nil
}

// workerCount applies min(requested, 32), further capped by
// ceil(totalFiles/10) so small backups stay single-worker.
func workerCount(requested, totalFiles int) int {
	if requested <= 0 {
		requested = 1
	}
	n := requested
	if n > 32 {
		n = 32
	}
	ceiling := int(math.Ceil(float64(totalFiles) / 10))
	if ceiling < 1 {
		ceiling = 1
	}
	if n > ceiling {
		n = ceiling
	}
	return n
}

// partition dual-bins pending items into n worker slices. Large files
// (>64KiB) are dealt round-robin by accumulated bytes crossing
// totalLargeBytes/n; small files are dealt round-robin by count crossing
// totalSmall/n. This keeps one worker from getting stuck with a single
// multi-GB file while the rest finish, without a global size sort that
// would make job-to-worker assignment depend on the full input and defeat
// the determinism resume relies on.
func partition(items []WorkItem, n int) [][]WorkItem {
	parts := make([][]WorkItem, n)

	var large, small []WorkItem
	var totalLarge int64
	for _, it := range items {
		if it.Size > smallLargeThreshold {
			large = append(large, it)
			totalLarge += it.Size
		} else {
			small = append(small, it)
		}
	}

	dealByBytes(parts, large, totalLarge, n)
	dealByCount(parts, small, int64(len(small)), n)
	return parts
}

func dealByBytes(parts [][]WorkItem, items []WorkItem, total int64, n int) {
	if len(items) == 0 {
		return
	}
	threshold := total / int64(n)
	if threshold <= 0 {
		threshold = 1
	}
	worker := 0
	var acc int64
	for _, it := range items {
		parts[worker] = append(parts[worker], it)
		acc += it.Size
		if acc >= threshold && worker < n-1 {
			worker++
			acc = 0
		}
	}
}

func dealByCount(parts [][]WorkItem, items []WorkItem, total int64, n int) {
	if len(items) == 0 {
		return
	}
	threshold := total / int64(n)
	if threshold <= 0 {
		threshold = 1
	}
	worker := 0
	var count int64
	for _, it := range items {
		parts[worker] = append(parts[worker], it)
		count++
		if count >= threshold && worker < n-1 {
			worker++
			count = 0
		}
	}
}

func runWorker(ctx context.Context, fs clusterfs.FS, items []WorkItem, opts Options, out chan<- message) error {
	for _, it := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		relName := strings.TrimPrefix(it.RelPath, it.Level+"/")

		switch it.Kind {
		case copyplan.HardLink:
			if err := fs.LinkCreate(it.RefPath, it.DstPath, true, false, false); err != nil {
				return fmt.Errorf("hardlink %s: %w", it.RelPath, err)
			}

		case copyplan.ChecksumOnly:
			sum, err := fs.Hash(it.DstPath, opts.Compress)
			if err != nil {
				return fmt.Errorf("%w: checksum %s: %v", perr.ErrChecksum, it.RelPath, err)
			}
			out <- message{level: it.Level, relName: relName, kind: msgChecksum, checksum: sum}

		case copyplan.Copy:
			result, err := fs.Copy(it.SrcPath, it.DstPath, false, opts.Compress, true, nil, nil, true)
			if err != nil {
				return fmt.Errorf("copy %s: %w", it.RelPath, err)
			}
			if result.Missing {
				plog.Warn("source file vanished during copy, removing from manifest", "path", it.RelPath)
				out <- message{level: it.Level, relName: relName, kind: msgRemove}
				continue
			}
			if opts.Checksum {
				sum, err := fs.Hash(it.DstPath, opts.Compress)
				if err != nil {
					return fmt.Errorf("%w: checksum %s: %v", perr.ErrChecksum, it.RelPath, err)
				}
				out <- message{level: it.Level, relName: relName, kind: msgChecksum, checksum: sum}
			}

		default:
			return fmt.Errorf("%w: unexpected job kind for %s", perr.ErrAssert, it.RelPath)
		}
	}
	return nil
}
