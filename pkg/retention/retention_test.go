package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pixelgardenlabs/pgl-backup/pkg/clusterfs"
	"github.com/pixelgardenlabs/pgl-backup/pkg/manifest"
)

// Apply's WAL-anchor path calls pkg/manifest.Load, which goes straight to the
// OS rather than through the injected FS (see pkg/resume's tests for the same
// convention), so those cases use a real temp directory and NativeFS instead
// of FakeFS.

func newFixture() *clusterfs.FakeFS {
	fs := clusterfs.NewFakeFS()
	fs.SetRoot(clusterfs.BackupCluster, "/repo")
	fs.SetRoot(clusterfs.BackupArchive, "/repo/archive")
	return fs
}

func addBackupDir(fs *clusterfs.FakeFS, label string) {
	fs.Files["/repo/"+label] = &clusterfs.FakeFile{Type: clusterfs.TypeDir}
}

func TestApplyRejectsInvalidFullKeep(t *testing.T) {
	fs := newFixture()
	if _, err := Apply(context.Background(), fs, Options{FullKeep: 0}); err == nil {
		t.Fatal("expected error for FullKeep < 1")
	}
}

func TestApplyRejectsInvalidDiffKeep(t *testing.T) {
	fs := newFixture()
	if _, err := Apply(context.Background(), fs, Options{FullKeep: 1, DiffKeep: -1}); err == nil {
		t.Fatal("expected error for negative DiffKeep")
	}
}

func TestApplyRejectsWALAnchorWithoutKeep(t *testing.T) {
	fs := newFixture()
	if _, err := Apply(context.Background(), fs, Options{FullKeep: 1, WALAnchorType: "full", WALAnchorKeep: 0}); err == nil {
		t.Fatal("expected error for WAL anchor type without a positive keep count")
	}
}

func TestApplyKeepsMostRecentFulls(t *testing.T) {
	fs := newFixture()
	addBackupDir(fs, "20260101-000000F")
	addBackupDir(fs, "20260102-000000F")
	addBackupDir(fs, "20260103-000000F")

	summary, err := Apply(context.Background(), fs, Options{FullKeep: 2, Workers: 2})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if summary.BackupsDeleted != 1 {
		t.Fatalf("expected 1 backup deleted, got %+v", summary)
	}
	if _, ok := fs.Files["/repo/20260101-000000F"]; ok {
		t.Fatal("expected oldest full to be deleted")
	}
	if _, ok := fs.Files["/repo/20260103-000000F"]; !ok {
		t.Fatal("expected newest full to survive")
	}
}

func TestApplyDeletesDerivedBackupsWithDeletedAncestor(t *testing.T) {
	fs := newFixture()
	addBackupDir(fs, "20260101-000000F")
	addBackupDir(fs, "20260101-000000_20260101-060000D")
	addBackupDir(fs, "20260102-000000F")

	summary, err := Apply(context.Background(), fs, Options{FullKeep: 1, Workers: 2})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if summary.BackupsDeleted != 2 {
		t.Fatalf("expected full and its diff both deleted, got %+v", summary)
	}
	if _, ok := fs.Files["/repo/20260101-000000_20260101-060000D"]; ok {
		t.Fatal("expected diff of deleted full to be deleted")
	}
	if _, ok := fs.Files["/repo/20260102-000000F"]; !ok {
		t.Fatal("expected surviving full to remain")
	}
}

func TestApplyDifferentialRetentionCutoff(t *testing.T) {
	fs := newFixture()
	addBackupDir(fs, "20260101-000000F")
	addBackupDir(fs, "20260101-000000_20260101-010000D")
	addBackupDir(fs, "20260101-000000_20260101-020000D")
	addBackupDir(fs, "20260101-000000_20260101-030000D")

	summary, err := Apply(context.Background(), fs, Options{FullKeep: 1, DiffKeep: 2, Workers: 2})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if summary.BackupsDeleted != 1 {
		t.Fatalf("expected 1 diff deleted, got %+v", summary)
	}
	if _, ok := fs.Files["/repo/20260101-000000_20260101-010000D"]; ok {
		t.Fatal("expected oldest diff to be deleted")
	}
	if _, ok := fs.Files["/repo/20260101-000000_20260101-030000D"]; !ok {
		t.Fatal("expected newest diff to survive")
	}
}

func TestApplyDifferentialRetentionDeletesIncrsOlderThanCutoff(t *testing.T) {
	fs := newFixture()
	addBackupDir(fs, "20260101-000000F")
	addBackupDir(fs, "20260101-000000_20260101-010000I")
	addBackupDir(fs, "20260101-000000_20260101-020000D")
	addBackupDir(fs, "20260101-000000_20260101-030000D")

	summary, err := Apply(context.Background(), fs, Options{FullKeep: 1, DiffKeep: 1, Workers: 2})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := fs.Files["/repo/20260101-000000_20260101-010000I"]; ok {
		t.Fatal("expected incr older than the diff cutoff to be deleted")
	}
	if _, ok := fs.Files["/repo/20260101-000000_20260101-020000D"]; ok {
		t.Fatal("expected diff older than the cutoff to be deleted")
	}
	if summary.BackupsDeleted != 2 {
		t.Fatalf("expected 2 deletions, got %+v", summary)
	}
}

func newNativeFixture(t *testing.T) (*clusterfs.NativeFS, string) {
	t.Helper()
	dir := t.TempDir()
	fs := clusterfs.NewNativeFS(map[clusterfs.PathKind]string{
		clusterfs.BackupCluster: dir,
		clusterfs.BackupArchive: filepath.Join(dir, "archive"),
	}, clusterfs.FormatGzip, 0)
	return fs, dir
}

func writeAnchorManifest(t *testing.T, dir, label, archiveStart string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, label), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	m := manifest.New()
	m.Label = label
	m.Type = "full"
	m.ArchiveStart = archiveStart
	if err := manifest.Save(filepath.Join(dir, label, "backup.manifest"), m); err != nil {
		t.Fatalf("save manifest for %s: %v", label, err)
	}
}

func writeArchiveFile(t *testing.T, dir, majorDir, name string) {
	t.Helper()
	abs := filepath.Join(dir, "archive", majorDir, name)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(abs, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestApplyFindsFullAnchorAndPrunesArchive(t *testing.T) {
	fs, dir := newNativeFixture(t)
	writeAnchorManifest(t, dir, "20260101-000000F", "0000000100000001000000AA")

	writeArchiveFile(t, dir, "0000000000000000", "000000000000000000000001")
	writeArchiveFile(t, dir, "0000000100000001", "0000000100000001000000A0")
	writeArchiveFile(t, dir, "0000000100000001", "0000000100000001000000BB")
	writeArchiveFile(t, dir, "0000000100000002", "0000000100000002000000AA")

	summary, err := Apply(context.Background(), fs, Options{
		FullKeep: 1, Workers: 2, WALAnchorType: "full", WALAnchorKeep: 1,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if summary.WALDirsDeleted != 1 {
		t.Fatalf("expected 1 WAL major dir deleted, got %+v", summary)
	}
	if summary.WALFilesDeleted != 1 {
		t.Fatalf("expected 1 file pruned from the cutoff dir, got %+v", summary)
	}
	if _, err := os.Stat(filepath.Join(dir, "archive", "0000000000000000")); !os.IsNotExist(err) {
		t.Fatal("expected the earlier major directory to be removed entirely")
	}
	if _, err := os.Stat(filepath.Join(dir, "archive", "0000000100000001", "0000000100000001000000A0")); !os.IsNotExist(err) {
		t.Fatal("expected the segment before archive-start to be pruned")
	}
	if _, err := os.Stat(filepath.Join(dir, "archive", "0000000100000001", "0000000100000001000000BB")); err != nil {
		t.Fatal("expected the segment at or after archive-start to survive")
	}
	if _, err := os.Stat(filepath.Join(dir, "archive", "0000000100000002")); err != nil {
		t.Fatal("expected the later major directory to survive untouched")
	}
}

func TestApplySkipsWALPruneWhenAnchorTypeUnset(t *testing.T) {
	fs, dir := newNativeFixture(t)
	writeAnchorManifest(t, dir, "20260101-000000F", "0000000100000001000000AA")
	writeArchiveFile(t, dir, "0000000000000000", "000000000000000000000001")

	summary, err := Apply(context.Background(), fs, Options{FullKeep: 1, Workers: 1})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if summary.WALDirsDeleted != 0 || summary.WALFilesDeleted != 0 {
		t.Fatalf("expected no WAL pruning, got %+v", summary)
	}
	if _, err := os.Stat(filepath.Join(dir, "archive", "0000000000000000")); err != nil {
		t.Fatal("expected archive directory untouched when WAL anchor type is unset")
	}
}

func TestApplySkipsWALPruneWhenNoAnchorFound(t *testing.T) {
	fs, dir := newNativeFixture(t)
	writeAnchorManifest(t, dir, "20260101-000000F", "0000000100000001000000AA")

	summary, err := Apply(context.Background(), fs, Options{
		FullKeep: 1, Workers: 1, WALAnchorType: "diff", WALAnchorKeep: 1,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if summary.WALDirsDeleted != 0 || summary.WALFilesDeleted != 0 {
		t.Fatalf("expected no WAL pruning when no diff backup exists, got %+v", summary)
	}
}

func TestFindAnchorFallsBackToOldestFullWhenCountExceedsAvailable(t *testing.T) {
	labels := []string{"20260101-000000F", "20260102-000000F"}
	anchor, ok := findAnchor(labels, "full", 5)
	if !ok {
		t.Fatal("expected fallback anchor for full type")
	}
	if anchor != "20260101-000000F" {
		t.Fatalf("expected fallback to the oldest full, got %s", anchor)
	}
}

func TestFindAnchorReturnsFalseForNonFullTypeWithNoMatches(t *testing.T) {
	labels := []string{"20260101-000000F"}
	if _, ok := findAnchor(labels, "incr", 1); ok {
		t.Fatal("expected no anchor when no incr backups exist and type is not full")
	}
}
