package cmd

import (
	"fmt"
	"path"
	"sort"
	"strconv"

	"github.com/pixelgardenlabs/pgl-backup/pkg/clusterfs"
	"github.com/pixelgardenlabs/pgl-backup/pkg/config"
	"github.com/pixelgardenlabs/pgl-backup/pkg/flagparse"
	"github.com/pixelgardenlabs/pgl-backup/pkg/manifest"
	"github.com/pixelgardenlabs/pgl-backup/pkg/walarchive"
)

// RunRestoreInfo reports the WAL segment range a backup needs without
// actually restoring it; actual restore is out of scope.
func RunRestoreInfo(flagMap map[string]any) error {
	repository, ok := flagMap["repository"].(string)
	if !ok || repository == "" {
		return fmt.Errorf("the -repository flag is required to run restore-info")
	}

	loadedConfig, err := config.Load(repository)
	if err != nil {
		return fmt.Errorf("failed to load configuration from repository: %w", err)
	}
	runConfig := config.MergeConfigWithFlags(flagparse.RestoreInfo, loadedConfig, flagMap)

	label, _ := flagMap["label"].(string)
	fs := newNativeFS(runConfig)

	if label == "" || label == "current" {
		label, err = mostRecentLabel(fs)
		if err != nil {
			return err
		}
	}
	if label == "" {
		return fmt.Errorf("no backups found in repository %s", runConfig.RepositoryRoot)
	}

	m, err := manifest.Load(fs.PathGet(clusterfs.BackupCluster, path.Join(label, "backup.manifest")))
	if err != nil {
		return fmt.Errorf("restore-info: load manifest for %s: %w", label, err)
	}

	dbVersion, _ := strconv.Atoi(m.Version)
	segs, err := walarchive.Range(m.ArchiveStart, m.ArchiveStop, dbVersion < 90300)
	if err != nil {
		return fmt.Errorf("restore-info: derive WAL range for %s: %w", label, err)
	}

	fmt.Printf("Backup:        %s (%s)\n", label, m.Type)
	fmt.Printf("Archive start: %s\n", m.ArchiveStart)
	fmt.Printf("Archive stop:  %s\n", m.ArchiveStop)
	fmt.Printf("WAL segments required (%d):\n", len(segs))
	for _, seg := range segs {
		fmt.Printf("  %s\n", seg)
	}
	return nil
}

func mostRecentLabel(fs clusterfs.FS) (string, error) {
	labels, err := listBackupLabels(fs)
	if err != nil {
		return "", err
	}
	if len(labels) == 0 {
		return "", nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(labels)))
	return labels[0], nil
}
