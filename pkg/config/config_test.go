package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pixelgardenlabs/pgl-backup/pkg/flagparse"
)

func newValidConfig(t *testing.T) Config {
	cfg := NewDefault()
	cfg.ClusterDataDir = t.TempDir()
	cfg.RepositoryRoot = t.TempDir()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := newValidConfig(t)
		if err := cfg.Validate(true); err != nil {
			t.Errorf("expected valid config to pass validation, but got error: %v", err)
		}
	})

	t.Run("empty cluster data dir", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.ClusterDataDir = ""
		if err := cfg.Validate(true); err == nil {
			t.Error("expected error for empty cluster data dir, but got nil")
		}
	})

	t.Run("non-existent cluster data dir", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.ClusterDataDir = filepath.Join(t.TempDir(), "nonexistent")
		if err := cfg.Validate(true); err == nil {
			t.Error("expected error for non-existent cluster data dir, but got nil")
		}
	})

	t.Run("cluster data dir check skipped", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.ClusterDataDir = ""
		if err := cfg.Validate(false); err != nil {
			t.Errorf("expected validation to pass when cluster check is skipped, got: %v", err)
		}
	})

	t.Run("empty repository root", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.RepositoryRoot = ""
		if err := cfg.Validate(true); err == nil {
			t.Error("expected error for empty repository root, but got nil")
		}
	})

	t.Run("invalid copy workers", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Performance.CopyWorkers = 0
		if err := cfg.Validate(true); err == nil {
			t.Error("expected error for zero copy workers, but got nil")
		}
	})

	t.Run("invalid compress format", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Options.Compress = true
		cfg.Options.CompressFormat = "lz4"
		if err := cfg.Validate(true); err == nil {
			t.Error("expected error for unsupported compress format, but got nil")
		}
	})

	t.Run("invalid retention counts", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Retention.Enabled = true
		cfg.Retention.FullCount = 0
		if err := cfg.Validate(true); err == nil {
			t.Error("expected error for zero full retention count, but got nil")
		}
	})

	t.Run("invalid wal anchor type", func(t *testing.T) {
		cfg := newValidConfig(t)
		cfg.Retention.Enabled = true
		cfg.Retention.WALAnchorType = "bogus"
		if err := cfg.Validate(true); err == nil {
			t.Error("expected error for invalid wal anchor type, but got nil")
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("no config file", func(t *testing.T) {
		repoRoot := t.TempDir()
		cfg, err := Load(repoRoot)
		if err != nil {
			t.Fatalf("expected no error when config file is missing, but got: %v", err)
		}
		if cfg.Performance.CopyWorkers != NewDefault().Performance.CopyWorkers {
			t.Errorf("expected default copy workers, got %d", cfg.Performance.CopyWorkers)
		}
	})

	t.Run("valid config file", func(t *testing.T) {
		repoRoot := t.TempDir()
		confPath := filepath.Join(repoRoot, ConfigFileName)
		content := `{"performance": {"copyWorkers": 8, "bufferSizeKB": 256, "walWaitTimeoutSeconds": 600}}`
		if err := os.WriteFile(confPath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test config file: %v", err)
		}

		cfg, err := Load(repoRoot)
		if err != nil {
			t.Fatalf("expected no error loading valid config, but got: %v", err)
		}
		if cfg.Performance.CopyWorkers != 8 {
			t.Errorf("expected copyWorkers overridden to 8, got %d", cfg.Performance.CopyWorkers)
		}
		if cfg.Options.CompressFormat != NewDefault().Options.CompressFormat {
			t.Errorf("expected default compress format to survive, got %s", cfg.Options.CompressFormat)
		}
	})

	t.Run("malformed config file", func(t *testing.T) {
		repoRoot := t.TempDir()
		confPath := filepath.Join(repoRoot, ConfigFileName)
		content := `{"performance": {"copyWorkers": 8},}`
		if err := os.WriteFile(confPath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test config file: %v", err)
		}

		if _, err := Load(repoRoot); err == nil {
			t.Fatal("expected an error when loading malformed config, but got nil")
		}
	})
}

func TestGenerateRoundTrip(t *testing.T) {
	cfg := NewDefault()
	cfg.RepositoryRoot = t.TempDir()
	cfg.Performance.CopyWorkers = 12

	if err := Generate(cfg); err != nil {
		t.Fatalf("failed to generate config: %v", err)
	}

	loaded, err := Load(cfg.RepositoryRoot)
	if err != nil {
		t.Fatalf("failed to load generated config: %v", err)
	}
	if loaded.Performance.CopyWorkers != 12 {
		t.Errorf("expected round-tripped copyWorkers 12, got %d", loaded.Performance.CopyWorkers)
	}
}

func TestMergeConfigWithFlags(t *testing.T) {
	base := NewDefault()
	base.RepositoryRoot = t.TempDir()

	setFlags := map[string]any{
		"cluster":      "/var/lib/pgsql/data",
		"copy-workers": 16,
		"checksum":     false,
		"unknown-flag": "ignored",
	}

	merged := MergeConfigWithFlags(flagparse.Backup, base, setFlags)

	if merged.ClusterDataDir != "/var/lib/pgsql/data" {
		t.Errorf("expected cluster override, got %s", merged.ClusterDataDir)
	}
	if merged.Performance.CopyWorkers != 16 {
		t.Errorf("expected copyWorkers override, got %d", merged.Performance.CopyWorkers)
	}
	if merged.Options.Checksum != false {
		t.Errorf("expected checksum override to false")
	}
	if merged.Options.CompressFormat != base.Options.CompressFormat {
		t.Errorf("expected untouched fields to survive merge")
	}
}
