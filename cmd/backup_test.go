package cmd_test

import (
	"context"
	"testing"

	"github.com/pixelgardenlabs/pgl-backup/cmd"
)

func TestRunBackupRequiresRepositoryFlag(t *testing.T) {
	if err := cmd.RunBackup(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error when -repository is missing")
	}
}

func TestRunBackupRejectsUnknownType(t *testing.T) {
	repo := t.TempDir()
	cluster := t.TempDir()

	if err := cmd.RunInit(map[string]any{"repository": repo, "cluster": cluster}); err != nil {
		t.Fatalf("RunInit failed: %v", err)
	}

	err := cmd.RunBackup(context.Background(), map[string]any{
		"repository": repo,
		"type":       "bogus",
	})
	if err == nil {
		t.Fatal("expected error for an unknown -type value")
	}
}
