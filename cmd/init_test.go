package cmd_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pixelgardenlabs/pgl-backup/cmd"
	"github.com/pixelgardenlabs/pgl-backup/pkg/config"
)

func TestRunInitWritesConfigFile(t *testing.T) {
	repo := t.TempDir()
	clusterDir := t.TempDir()

	flags := map[string]any{
		"repository": repo,
		"cluster":    clusterDir,
	}

	if err := cmd.RunInit(flags); err != nil {
		t.Fatalf("RunInit failed: %v", err)
	}

	configPath := filepath.Join(repo, config.ConfigFileName)
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("expected config file at %s: %v", configPath, err)
	}

	loaded, err := config.Load(repo)
	if err != nil {
		t.Fatalf("could not load generated config: %v", err)
	}
	if loaded.ClusterDataDir == "" {
		t.Error("expected ClusterDataDir to be set in generated config")
	}
}

func TestRunInitRequiresRepositoryFlag(t *testing.T) {
	err := cmd.RunInit(map[string]any{"cluster": t.TempDir()})
	if err == nil {
		t.Fatal("expected error when -repository is missing")
	}
}

func TestRunInitRequiresClusterFlag(t *testing.T) {
	err := cmd.RunInit(map[string]any{"repository": t.TempDir()})
	if err == nil {
		t.Fatal("expected error when -cluster is missing")
	}
}

func TestRunInitRefusesToOverwriteWithoutForce(t *testing.T) {
	repo := t.TempDir()
	clusterDir := t.TempDir()
	flags := map[string]any{"repository": repo, "cluster": clusterDir}

	if err := cmd.RunInit(flags); err != nil {
		t.Fatalf("first RunInit failed: %v", err)
	}
	if err := cmd.RunInit(flags); err == nil {
		t.Fatal("expected second RunInit without -force to fail")
	}

	flags["force"] = true
	if err := cmd.RunInit(flags); err != nil {
		t.Fatalf("RunInit with -force should succeed: %v", err)
	}
}
