package cmd

import (
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/pixelgardenlabs/pgl-backup/pkg/backuplabel"
	"github.com/pixelgardenlabs/pgl-backup/pkg/clusterfs"
	"github.com/pixelgardenlabs/pgl-backup/pkg/config"
	"github.com/pixelgardenlabs/pgl-backup/pkg/flagparse"
	"github.com/pixelgardenlabs/pgl-backup/pkg/manifest"
)

// RunList prints every backup in a repository, newest first, with its type
// and the WAL range it spans.
func RunList(flagMap map[string]any) error {
	repository, ok := flagMap["repository"].(string)
	if !ok || repository == "" {
		return fmt.Errorf("the -repository flag is required to run list")
	}

	loadedConfig, err := config.Load(repository)
	if err != nil {
		return fmt.Errorf("failed to load configuration from repository: %w", err)
	}
	runConfig := config.MergeConfigWithFlags(flagparse.List, loadedConfig, flagMap)

	fs := newNativeFS(runConfig)
	labels, err := listBackupLabels(fs)
	if err != nil {
		return err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(labels)))

	if len(labels) == 0 {
		fmt.Println("No backups found.")
		return nil
	}

	fmt.Printf("%-34s %-5s %-20s %-26s %-26s\n", "Label", "Type", "Started", "Archive Start", "Archive Stop")
	for _, label := range labels {
		m, err := manifest.Load(fs.PathGet(clusterfs.BackupCluster, path.Join(label, "backup.manifest")))
		if err != nil {
			fmt.Printf("%-34s <unreadable manifest: %v>\n", label, err)
			continue
		}
		started := time.Unix(m.TimestampStart, 0).UTC().Format("2006-01-02 15:04:05")
		fmt.Printf("%-34s %-5s %-20s %-26s %-26s\n", label, m.Type, started, m.ArchiveStart, m.ArchiveStop)
	}
	return nil
}

func listBackupLabels(fs clusterfs.FS) ([]string, error) {
	re, err := backuplabel.Predicate(true, true, true)
	if err != nil {
		return nil, err
	}
	root := fs.PathGet(clusterfs.BackupCluster, "")
	return fs.List(root, re, clusterfs.SortNone)
}
