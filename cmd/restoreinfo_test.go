package cmd_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pixelgardenlabs/pgl-backup/cmd"
	"github.com/pixelgardenlabs/pgl-backup/pkg/backuplabel"
	"github.com/pixelgardenlabs/pgl-backup/pkg/config"
)

func TestRunRestoreInfoReportsWALRangeForMostRecentBackup(t *testing.T) {
	repo := t.TempDir()
	cfg := config.NewDefault()
	cfg.RepositoryRoot = repo
	if err := config.Generate(cfg); err != nil {
		t.Fatalf("could not write config: %v", err)
	}

	label, err := backuplabel.NewLabel("", backuplabel.Full, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewLabel: %v", err)
	}
	writeFixtureBackup(t, repo, label, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		"000000010000000000000001", "000000010000000000000001")

	output, err := captureStdout(t, func() error {
		return cmd.RunRestoreInfo(map[string]any{"repository": repo})
	})
	if err != nil {
		t.Fatalf("RunRestoreInfo failed: %v", err)
	}

	if !strings.Contains(output, label) {
		t.Errorf("expected output to mention label %q, got: %q", label, output)
	}
	if !strings.Contains(output, "000000010000000000000001") {
		t.Errorf("expected output to mention the WAL segment, got: %q", output)
	}
}

func TestRunRestoreInfoResolvesExplicitLabel(t *testing.T) {
	repo := t.TempDir()
	cfg := config.NewDefault()
	cfg.RepositoryRoot = repo
	if err := config.Generate(cfg); err != nil {
		t.Fatalf("could not write config: %v", err)
	}

	older, err := backuplabel.NewLabel("", backuplabel.Full, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewLabel: %v", err)
	}
	newer, err := backuplabel.NewLabel("", backuplabel.Full, time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewLabel: %v", err)
	}
	writeFixtureBackup(t, repo, older, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), "000000010000000000000001", "000000010000000000000001")
	writeFixtureBackup(t, repo, newer, time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), "000000010000000000000005", "000000010000000000000005")

	output, err := captureStdout(t, func() error {
		return cmd.RunRestoreInfo(map[string]any{"repository": repo, "label": older})
	})
	if err != nil {
		t.Fatalf("RunRestoreInfo failed: %v", err)
	}
	if !strings.Contains(output, older) {
		t.Errorf("expected output to mention explicitly requested label %q, got: %q", older, output)
	}
	if strings.Contains(output, newer) {
		t.Errorf("did not expect the newer label %q to appear when an older one was requested explicitly, got: %q", newer, output)
	}
}

func TestRunRestoreInfoErrorsWhenRepositoryEmpty(t *testing.T) {
	repo := t.TempDir()
	cfg := config.NewDefault()
	cfg.RepositoryRoot = repo
	if err := config.Generate(cfg); err != nil {
		t.Fatalf("could not write config: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(repo, "backup"), 0o755); err != nil {
		t.Fatalf("could not create backup dir: %v", err)
	}

	if err := cmd.RunRestoreInfo(map[string]any{"repository": repo}); err == nil {
		t.Fatal("expected error when the repository has no backups")
	}
}
