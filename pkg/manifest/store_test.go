package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func sampleManifest() *Manifest {
	m := New()
	m.Label = "20260101-000000F"
	m.Type = "full"
	m.Version = "160003"
	m.TimestampStart = 1767225600
	m.TimestampStop = 1767225660
	m.ArchiveStart = "000000010000000000000001"
	m.ArchiveStop = "000000010000000000000002"
	m.Compress = true
	m.Checksum = true
	m.HardLink = false
	m.Paths["base"] = "/var/lib/postgresql/16/main"
	m.Tablespaces["16391"] = TablespaceEntry{Link: "16391", Path: "pg_tblspc/16391"}
	m.Paths["tablespace:fast"] = "/mnt/fast/pg_tblspc/16391"

	base := m.LevelFor("base")
	base.Paths["pg_wal"] = PathEntry{User: "postgres", Group: "postgres", Permission: 0700}
	base.Files["PG_VERSION"] = FileEntry{
		User: "postgres", Group: "postgres", Permission: 0600,
		Size: 3, Inode: 12345, ModTime: 1767225000, Checksum: "abc123",
	}
	base.Files["base/1/2608"] = FileEntry{
		User: "postgres", Group: "postgres", Permission: 0600,
		Size: 8192, Inode: 67890, ModTime: 1767224000, Reference: "20251231-000000F",
	}
	base.Links["postmaster.opts.link"] = LinkEntry{User: "postgres", Group: "postgres", LinkDestination: "/tmp/x"}

	tbs := m.LevelFor("tablespace:fast")
	tbs.Files["16392/16393"] = FileEntry{User: "postgres", Group: "postgres", Permission: 0600, Size: 100, Inode: 1, ModTime: 5}

	m.AddReference("20251231-000000F")
	return m
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest")
	want := sampleManifest()

	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.Label != want.Label || got.Type != want.Type || got.Version != want.Version {
		t.Fatalf("backup section mismatch: got %+v want %+v", got, want)
	}
	if got.TimestampStart != want.TimestampStart || got.TimestampStop != want.TimestampStop {
		t.Fatalf("timestamps mismatch: got %+v want %+v", got, want)
	}
	if got.ArchiveStart != want.ArchiveStart || got.ArchiveStop != want.ArchiveStop {
		t.Fatalf("archive positions mismatch: got %+v want %+v", got, want)
	}
	if len(got.References) != 1 || got.References[0] != "20251231-000000F" {
		t.Fatalf("references mismatch: got %v", got.References)
	}
	if !got.Compress || !got.Checksum || got.HardLink {
		t.Fatalf("options mismatch: got compress=%v checksum=%v hardlink=%v", got.Compress, got.Checksum, got.HardLink)
	}
	if got.Paths["base"] != want.Paths["base"] || got.Paths["tablespace:fast"] != want.Paths["tablespace:fast"] {
		t.Fatalf("paths mismatch: got %v", got.Paths)
	}
	if got.Tablespaces["16391"] != want.Tablespaces["16391"] {
		t.Fatalf("tablespaces mismatch: got %v", got.Tablespaces)
	}

	gotBase := got.Levels["base"]
	wantBase := want.Levels["base"]
	if gotBase.Files["PG_VERSION"] != wantBase.Files["PG_VERSION"] {
		t.Fatalf("base file mismatch: got %+v want %+v", gotBase.Files["PG_VERSION"], wantBase.Files["PG_VERSION"])
	}
	if gotBase.Files["base/1/2608"] != wantBase.Files["base/1/2608"] {
		t.Fatalf("base file reference mismatch: got %+v want %+v", gotBase.Files["base/1/2608"], wantBase.Files["base/1/2608"])
	}
	if gotBase.Paths["pg_wal"] != wantBase.Paths["pg_wal"] {
		t.Fatalf("base path mismatch: got %+v want %+v", gotBase.Paths["pg_wal"], wantBase.Paths["pg_wal"])
	}
	if gotBase.Links["postmaster.opts.link"] != wantBase.Links["postmaster.opts.link"] {
		t.Fatalf("base link mismatch: got %+v want %+v", gotBase.Links["postmaster.opts.link"], wantBase.Links["postmaster.opts.link"])
	}

	gotTbs := got.Levels["tablespace:fast"]
	if gotTbs.Files["16392/16393"] != want.Levels["tablespace:fast"].Files["16392/16393"] {
		t.Fatalf("tablespace file mismatch: got %+v", gotTbs.Files["16392/16393"])
	}
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest")
	if err := Save(path, sampleManifest()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the final manifest file to remain, got %v", entries)
	}
}

func TestLoadMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest")
	if err := os.WriteFile(path, []byte("[backup]\nlabel\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for line without '='")
	}
}

func TestLoadPreservesUnknownSectionsAndKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest")
	raw := "[backup]\n" +
		"label=\"20260101-000000F\"\n" +
		"type=\"full\"\n" +
		"prior=\"\"\n" +
		"version=\"160003\"\n" +
		"timestamp-start=1767225600\n" +
		"timestamp-stop=1767225660\n" +
		"archive-start=\"000000010000000000000001\"\n" +
		"archive-stop=\"000000010000000000000002\"\n" +
		"reference=\"\"\n" +
		"encryption-key-id=\"future-field\"\n" +
		"\n" +
		"[backup:option]\n" +
		"compress=y\n" +
		"checksum=y\n" +
		"hardlink=n\n" +
		"repo-tier=\"cold\"\n" +
		"\n" +
		"[base:path]\n" +
		"pg_wal.user=\"postgres\"\n" +
		"pg_wal.group=\"postgres\"\n" +
		"pg_wal.permission=0700\n" +
		"pg_wal.xattr=\"unsupported.value\"\n" +
		"\n" +
		"[backup:encryption]\n" +
		"cipher=\"aes-256-gcm\"\n" +
		"key-id=\"1\"\n"

	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Label != "20260101-000000F" {
		t.Fatalf("expected known keys to still parse, got label %q", got.Label)
	}

	wantUnknown := map[string]string{
		"backup":            "encryption-key-id",
		"backup:option":     "repo-tier",
		"base:path":         "pg_wal.xattr",
		"backup:encryption": "cipher",
	}
	for section, key := range wantUnknown {
		entries := got.Unknown[section]
		found := false
		for _, e := range entries {
			if e.Key == key {
				found = true
			}
		}
		if !found {
			t.Errorf("expected section %q to preserve unknown key %q, got %v", section, key, entries)
		}
	}

	// Round-trip: saving and reloading must still carry the unknown keys.
	reloadPath := filepath.Join(dir, "manifest-reloaded")
	if err := Save(reloadPath, got); err != nil {
		t.Fatalf("Save: %v", err)
	}
	roundTripped, err := Load(reloadPath)
	if err != nil {
		t.Fatalf("Load (round-tripped): %v", err)
	}
	for section, key := range wantUnknown {
		entries := roundTripped.Unknown[section]
		found := false
		for _, e := range entries {
			if e.Key == key {
				found = true
			}
		}
		if !found {
			t.Errorf("round trip lost unknown key %q in section %q, got %v", key, section, entries)
		}
	}
}

func TestLoadEmptyReferenceList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest")
	m := New()
	m.Label = "20260101-000000F"
	if err := Save(path, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.References) != 0 {
		t.Fatalf("expected no references, got %v", got.References)
	}
}
