// Package resume inspects a temp backup directory left behind by an aborted
// run and decides whether it can be reused, cleaning it against a freshly
// built manifest when it can.
package resume

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/pixelgardenlabs/pgl-backup/pkg/clusterfs"
	"github.com/pixelgardenlabs/pgl-backup/pkg/manifest"
	"github.com/pixelgardenlabs/pgl-backup/pkg/plog"
)

// tempManifestName is the file a temp backup's own manifest is saved under,
// mirroring the final backup.manifest name so the same Store code applies.
const tempManifestName = "backup.manifest"

// Prepare inspects tmpPath (the backup.tmp directory) against newManifest and
// leaves it in one of two states: reused-and-cleaned, or discarded and
// recreated empty. It marks FileEntry.Exists on newManifest's entries that
// the temp tree already holds correctly, so the copy planner can skip them.
func Prepare(fs clusterfs.FS, tmpPath string, newManifest *manifest.Manifest) error {
	exists, err := fs.Exists(tmpPath)
	if err != nil {
		return fmt.Errorf("resume: check %s: %w", tmpPath, err)
	}
	if !exists {
		return fs.PathCreate(tmpPath, 0o700)
	}

	tempManifestPath := fs.PathGet(clusterfs.BackupTmp, tempManifestName)
	tempManifest, err := manifest.Load(tempManifestPath)
	if err != nil {
		plog.Warn("temp backup manifest unreadable, discarding", "path", tempManifestPath, "error", err)
		return discard(fs, tmpPath)
	}

	if !usable(tempManifest, newManifest) {
		plog.Info("temp backup not compatible with current run, discarding", "temp_type", tempManifest.Type, "new_type", newManifest.Type)
		return discard(fs, tmpPath)
	}

	plog.Info("resuming compatible temp backup", "path", tmpPath)
	return clean(fs, tmpPath, newManifest)
}

// usable implements the resume compatibility rule: same database version,
// and either both full or matching type+prior lineage.
func usable(temp, current *manifest.Manifest) bool {
	if temp.Version != current.Version {
		return false
	}
	if temp.Type == "full" && current.Type == "full" {
		return true
	}
	return temp.Type == current.Type && temp.Prior == current.Prior
}

func discard(fs clusterfs.FS, tmpPath string) error {
	if err := fs.Remove(tmpPath, true); err != nil {
		return fmt.Errorf("resume: discard %s: %w", tmpPath, err)
	}
	return fs.PathCreate(tmpPath, 0o700)
}

// clean removes base/pg_xlog and base/pg_tblspc unconditionally (WAL and
// tablespace links are always rebuilt fresh, never resumed), then walks the
// remaining temp tree deleting anything that doesn't correspond to an
// unchanged entry in newManifest and marking Exists on what does.
func clean(fs clusterfs.FS, tmpPath string, newManifest *manifest.Manifest) error {
	for _, always := range []string{"base/pg_xlog", "base/pg_tblspc"} {
		abs := fs.PathGet(clusterfs.BackupTmp, always)
		if ok, _ := fs.Exists(abs); ok {
			if err := fs.Remove(abs, true); err != nil {
				return fmt.Errorf("resume: clean %s: %w", always, err)
			}
		}
	}

	entries, err := walkTemp(fs, tmpPath, "")
	if err != nil {
		return fmt.Errorf("resume: walk temp tree: %w", err)
	}

	// Files before directories, reverse-lexicographic within each group, so
	// children are drained before their parent directory is removed.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].isDir != entries[j].isDir {
			return !entries[i].isDir
		}
		return entries[i].relPath > entries[j].relPath
	})

	for _, e := range entries {
		if strings.HasPrefix(e.relPath, "base/pg_xlog") || strings.HasPrefix(e.relPath, "base/pg_tblspc") {
			continue // already removed above
		}

		level, levelRel := levelOf(e.relPath)
		lvl := newManifest.Levels[level]
		abs := fs.PathGet(clusterfs.BackupTmp, e.relPath)

		if e.isDir {
			if lvl != nil {
				if _, ok := lvl.Paths[levelRel]; ok {
					continue
				}
			}
			if levelRel == "" {
				continue // "base" and "tablespace" container directories themselves
			}
			if ok, _ := fs.Exists(abs); ok {
				fs.Remove(abs, false)
			}
			continue
		}

		if lvl != nil {
			if fileEntry, ok := lvl.Files[levelRel]; ok && fileEntry.Size == e.size && fileEntry.ModTime == e.modTime {
				fileEntry.Exists = true
				lvl.Files[levelRel] = fileEntry
				continue
			}
		}
		if err := fs.Remove(abs, false); err != nil {
			return fmt.Errorf("resume: remove stale entry %s: %w", e.relPath, err)
		}
	}
	return nil
}

// levelOf maps a path relative to the temp backup root to the manifest
// level ("base" or "tablespace:NAME") and the entry's path relative to that
// level's own root, matching the on-disk layout base/** and
// tablespace/<NAME>/**.
func levelOf(relPath string) (level, levelRel string) {
	if relPath == "base" || strings.HasPrefix(relPath, "base/") {
		return "base", strings.TrimPrefix(strings.TrimPrefix(relPath, "base"), "/")
	}
	if relPath == "tablespace" {
		return "", ""
	}
	if strings.HasPrefix(relPath, "tablespace/") {
		rest := strings.TrimPrefix(relPath, "tablespace/")
		idx := strings.IndexByte(rest, '/')
		if idx < 0 {
			return "tablespace:" + rest, ""
		}
		return "tablespace:" + rest[:idx], rest[idx+1:]
	}
	return "", relPath
}

type tempEntry struct {
	relPath string
	isDir   bool
	size    int64
	modTime int64
}

func walkTemp(fs clusterfs.FS, absRoot, relPrefix string) ([]tempEntry, error) {
	infos, err := fs.Manifest(absRoot)
	if err != nil {
		return nil, err
	}
	var out []tempEntry
	names := make([]string, 0, len(infos))
	for name := range infos {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		info := infos[name]
		rel := name
		if relPrefix != "" {
			rel = relPrefix + "/" + name
		}
		switch info.Type {
		case clusterfs.TypeDir:
			out = append(out, tempEntry{relPath: rel, isDir: true})
			children, err := walkTemp(fs, path.Join(absRoot, name), rel)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		case clusterfs.TypeFile:
			out = append(out, tempEntry{relPath: rel, size: info.Size, modTime: info.ModTime})
		case clusterfs.TypeLink:
			out = append(out, tempEntry{relPath: rel})
		}
	}
	return out, nil
}
