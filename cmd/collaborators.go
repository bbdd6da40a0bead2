package cmd

import (
	"os/exec"
	"path/filepath"

	"github.com/pixelgardenlabs/pgl-backup/pkg/clusterfs"
	"github.com/pixelgardenlabs/pgl-backup/pkg/config"
	"github.com/pixelgardenlabs/pgl-backup/pkg/dbclient"
	"github.com/pixelgardenlabs/pgl-backup/pkg/hook"
)

// newCollaborators builds the filesystem, database, and hook collaborators
// every command needing an Engine shares.
func newCollaborators(cfg config.Config) (clusterfs.FS, dbclient.Client, *hook.HookExecutor) {
	fs := newNativeFS(cfg)
	// The database control client that issues backup_start/backup_stop is an
	// external collaborator spec.md places out of scope; a real driver
	// plugs in behind the same dbclient.Client seam.
	db := dbclient.NewFakeClient()
	hooks := hook.NewHookExecutor(exec.CommandContext)
	return fs, db, hooks
}

// newNativeFS maps the configured cluster and repository roots onto the
// PathKinds clusterfs.FS callers address by.
func newNativeFS(cfg config.Config) *clusterfs.NativeFS {
	roots := map[clusterfs.PathKind]string{
		clusterfs.DBAbsolute:     cfg.ClusterDataDir,
		clusterfs.BackupAbsolute: cfg.RepositoryRoot,
		clusterfs.BackupCluster:  filepath.Join(cfg.RepositoryRoot, "backup"),
		clusterfs.BackupTmp:      filepath.Join(cfg.RepositoryRoot, "backup.tmp"),
		clusterfs.BackupArchive:  filepath.Join(cfg.RepositoryRoot, "archive"),
	}
	return clusterfs.NewNativeFS(roots, compressFormatFor(cfg.Options.CompressFormat), cfg.Performance.BufferSizeKB)
}

// compressFormatFor translates the config file's "zst"/"gzip" strings to
// clusterfs's own CompressFormat values.
func compressFormatFor(format string) clusterfs.CompressFormat {
	if format == "zst" {
		return clusterfs.FormatZstd
	}
	return clusterfs.FormatGzip
}
