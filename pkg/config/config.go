// Package config loads and validates the JSON configuration file describing
// a single cluster-to-repository backup relationship: where the cluster's
// data directory and the backup repository live, how aggressively to
// compress and checksum, how many copy workers to run, and what retention
// policy to enforce.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pixelgardenlabs/pgl-backup/pkg/buildinfo"
	"github.com/pixelgardenlabs/pgl-backup/pkg/flagparse"
	"github.com/pixelgardenlabs/pgl-backup/pkg/plog"
	"github.com/pixelgardenlabs/pgl-backup/pkg/util"
)

// ConfigFileName is the name of the configuration file, read from and
// written to the repository root.
const ConfigFileName = "pgl-backup.config.json"

// BackupPerformanceConfig controls the parallel copy executor (C6).
type BackupPerformanceConfig struct {
	// CopyWorkers is the requested worker count; the engine further caps it
	// at min(CopyWorkers, 32) and ceil(totalFiles/10).
	CopyWorkers  int `json:"copyWorkers"`
	BufferSizeKB int `json:"bufferSizeKB" comment:"Size of the I/O buffer in kilobytes for file copies and checksumming. Keep between 64KB-4MB."`
	// WALWaitTimeoutSeconds bounds how long C7 waits for each expected WAL
	// segment to appear in the archive directory before failing the backup.
	WALWaitTimeoutSeconds int `json:"walWaitTimeoutSeconds"`
	// BackupTimeoutSeconds, if positive, bounds the whole copy phase; 0 means
	// no timeout beyond the per-segment WAL wait.
	BackupTimeoutSeconds int `json:"backupTimeoutSeconds,omitempty"`
}

// BackupOptionsConfig mirrors the three flags recorded in a manifest's
// backup:option section.
type BackupOptionsConfig struct {
	Compress       bool   `json:"compress"`
	CompressFormat string `json:"compressFormat"`
	Checksum       bool   `json:"checksum"`
	HardLink       bool   `json:"hardLink"`
}

// RetentionConfig holds the full/differential backup counts and the WAL
// anchor selection used to prune the archive (C8).
type RetentionConfig struct {
	Enabled bool `json:"enabled"`
	// FullCount (K_f) keeps this many of the most recent full backups.
	FullCount int `json:"fullCount"`
	// DiffCount (K_d) keeps this many of the most recent differential backups
	// among those that survive full retention.
	DiffCount int `json:"diffCount"`
	// WALAnchorType selects which backup type (full/diff/incr) anchors WAL
	// retention; empty disables WAL pruning.
	WALAnchorType string `json:"walAnchorType"`
	// WALAnchorCount (K_a) picks the K_a-th most recent backup of
	// WALAnchorType, in reverse label order, as the WAL retention anchor.
	WALAnchorCount int `json:"walAnchorCount"`
}

// HooksConfig lists the shell commands run at the start of a backup run,
// before backup_start, and when the run returns.
type HooksConfig struct {
	// Note: omitempty is intentionally not used so both fields appear in a
	// generated config file for discoverability.
	// PreBackup commands run before backup_start is issued.
	// SECURITY: executed as provided. Only configure commands from a trusted source.
	PreBackup []string `json:"preBackup"`
	// PostBackup commands run when the backup run returns: after the final rename
	// and retention pass on success, and also when the run fails after the
	// pre-backup hooks have run.
	// SECURITY: executed as provided. Only configure commands from a trusted source.
	PostBackup []string `json:"postBackup"`
}

// RuntimeConfig holds values that come from the command line and are never
// persisted to the config file.
type RuntimeConfig struct {
	FailFast bool
	DryRun   bool
}

// Config is the full configuration for a backup run against one repository.
type Config struct {
	Version        string                  `json:"version"`
	ClusterDataDir string                  `json:"clusterDataDir"`
	RepositoryRoot string                  `json:"-"`
	Runtime        RuntimeConfig           `json:"-"`
	LogLevel       string                  `json:"logLevel"`
	Performance    BackupPerformanceConfig `json:"performance"`
	Options        BackupOptionsConfig     `json:"options"`
	Retention      RetentionConfig         `json:"retention"`
	Hooks          HooksConfig             `json:"hooks"`
	TablespaceMap  map[string]string       `json:"tablespaceMap"`
}

// NewDefault returns a Config with sensible defaults. RepositoryRoot and
// ClusterDataDir are left empty to force explicit configuration.
func NewDefault() Config {
	return Config{
		Version:        buildinfo.Version,
		ClusterDataDir: "",
		RepositoryRoot: "",
		LogLevel:       "info",
		Performance: BackupPerformanceConfig{
			CopyWorkers:           4,
			BufferSizeKB:          256,
			WALWaitTimeoutSeconds: 600,
		},
		Options: BackupOptionsConfig{
			Compress:       true,
			CompressFormat: "zst",
			Checksum:       true,
			HardLink:       false,
		},
		Retention: RetentionConfig{
			Enabled:        true,
			FullCount:      2,
			DiffCount:      1,
			WALAnchorType:  "full",
			WALAnchorCount: 1,
		},
		Hooks: HooksConfig{
			PreBackup:  []string{},
			PostBackup: []string{},
		},
		TablespaceMap: map[string]string{},
	}
}

// Load reads "pgl-backup.config.json" from repositoryRoot. A missing file is
// not an error: the caller gets defaults. A malformed file is.
func Load(repositoryRoot string) (Config, error) {
	absRepoRoot, err := filepath.Abs(repositoryRoot)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for repository root %s: %w", repositoryRoot, err)
	}

	configPath := filepath.Join(absRepoRoot, ConfigFileName)

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := NewDefault()
			cfg.RepositoryRoot = absRepoRoot
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)
	// Start from defaults so a config file missing newer fields still gets
	// sane values for them.
	cfg := NewDefault()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}

	cfg.RepositoryRoot = absRepoRoot
	if cfg.Version != buildinfo.Version {
		cfg.Version = buildinfo.Version
	}
	return cfg, nil
}

// Generate writes cfg to "pgl-backup.config.json" in cfg.RepositoryRoot,
// creating or overwriting the file.
func Generate(cfg Config) error {
	configPath := filepath.Join(cfg.RepositoryRoot, ConfigFileName)
	jsonData, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// Validate checks the configuration for logical errors. checkClusterDataDir
// is false for commands (like list/prune) that don't need a live cluster.
func (c *Config) Validate(checkClusterDataDir bool) error {
	if checkClusterDataDir && c.ClusterDataDir == "" {
		return fmt.Errorf("cluster data directory cannot be empty")
	}
	if c.RepositoryRoot == "" {
		return fmt.Errorf("repository root cannot be empty")
	}

	var err error
	if c.ClusterDataDir != "" {
		c.ClusterDataDir, err = util.ExpandPath(c.ClusterDataDir)
		if err != nil {
			return fmt.Errorf("could not expand cluster data directory: %w", err)
		}
		c.ClusterDataDir = filepath.Clean(c.ClusterDataDir)

		if checkClusterDataDir {
			if _, err := os.Stat(c.ClusterDataDir); os.IsNotExist(err) {
				return fmt.Errorf("cluster data directory '%s' does not exist", c.ClusterDataDir)
			}
		}
	}

	if c.RepositoryRoot != "" {
		c.RepositoryRoot, err = util.ExpandPath(c.RepositoryRoot)
		if err != nil {
			return fmt.Errorf("could not expand repository root: %w", err)
		}
		c.RepositoryRoot = filepath.Clean(c.RepositoryRoot)
	}

	if c.Performance.CopyWorkers < 1 {
		return fmt.Errorf("performance.copyWorkers must be at least 1")
	}
	if c.Performance.BufferSizeKB <= 0 {
		return fmt.Errorf("performance.bufferSizeKB must be greater than 0")
	}
	if c.Performance.WALWaitTimeoutSeconds < 1 {
		return fmt.Errorf("performance.walWaitTimeoutSeconds must be at least 1")
	}
	if c.Performance.BackupTimeoutSeconds < 0 {
		return fmt.Errorf("performance.backupTimeoutSeconds cannot be negative")
	}

	if c.Options.Compress {
		switch c.Options.CompressFormat {
		case "zst", "gzip":
		default:
			return fmt.Errorf("options.compressFormat must be 'zst' or 'gzip', got %q", c.Options.CompressFormat)
		}
	}

	if c.Retention.Enabled {
		if c.Retention.FullCount < 1 {
			return fmt.Errorf("retention.fullCount must be at least 1 when retention is enabled")
		}
		if c.Retention.DiffCount < 1 {
			return fmt.Errorf("retention.diffCount must be at least 1 when retention is enabled")
		}
		switch c.Retention.WALAnchorType {
		case "", "full", "diff", "incr":
		default:
			return fmt.Errorf("retention.walAnchorType must be one of '', 'full', 'diff', 'incr', got %q", c.Retention.WALAnchorType)
		}
		if c.Retention.WALAnchorType != "" && c.Retention.WALAnchorCount < 1 {
			return fmt.Errorf("retention.walAnchorCount must be at least 1 when walAnchorType is set")
		}
	}

	return nil
}

// LogSummary prints a user-friendly summary of the effective configuration.
func (c *Config) LogSummary() {
	logArgs := []any{
		"log_level", c.LogLevel,
		"cluster", c.ClusterDataDir,
		"repository", c.RepositoryRoot,
		"dry_run", c.Runtime.DryRun,
		"copy_workers", c.Performance.CopyWorkers,
		"buffer_size_kb", c.Performance.BufferSizeKB,
		"wal_wait_timeout_s", c.Performance.WALWaitTimeoutSeconds,
	}

	optionsSummary := fmt.Sprintf("compress:%v(%s) checksum:%v hardlink:%v",
		c.Options.Compress, c.Options.CompressFormat, c.Options.Checksum, c.Options.HardLink)
	logArgs = append(logArgs, "options", optionsSummary)

	if c.Retention.Enabled {
		retentionSummary := fmt.Sprintf("full:%d diff:%d wal-anchor:%s/%d",
			c.Retention.FullCount, c.Retention.DiffCount, c.Retention.WALAnchorType, c.Retention.WALAnchorCount)
		logArgs = append(logArgs, "retention", retentionSummary)
	}

	if len(c.Hooks.PreBackup) > 0 {
		logArgs = append(logArgs, "pre_backup_hooks", strings.Join(c.Hooks.PreBackup, "; "))
	}
	if len(c.Hooks.PostBackup) > 0 {
		logArgs = append(logArgs, "post_backup_hooks", strings.Join(c.Hooks.PostBackup, "; "))
	}
	plog.Info("Configuration loaded", logArgs...)
}

// MergeConfigWithFlags overlays flag values explicitly set on the command
// line on top of base. setFlags contains only flags the user actually
// passed, so unset flags never clobber a config-file value.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "cluster":
			merged.ClusterDataDir = value.(string)
		case "repository":
			merged.RepositoryRoot = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "fail-fast":
			merged.Runtime.FailFast = value.(bool)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "copy-workers":
			merged.Performance.CopyWorkers = value.(int)
		case "buffer-size-kb":
			merged.Performance.BufferSizeKB = value.(int)
		case "wal-wait-timeout":
			merged.Performance.WALWaitTimeoutSeconds = value.(int)
		case "backup-timeout":
			merged.Performance.BackupTimeoutSeconds = value.(int)
		case "compress":
			merged.Options.Compress = value.(bool)
		case "compress-format":
			merged.Options.CompressFormat = value.(string)
		case "checksum":
			merged.Options.Checksum = value.(bool)
		case "hardlink":
			merged.Options.HardLink = value.(bool)
		case "retention-full-count":
			merged.Retention.FullCount = value.(int)
		case "retention-diff-count":
			merged.Retention.DiffCount = value.(int)
		case "retention-wal-anchor-type":
			merged.Retention.WALAnchorType = value.(string)
		case "retention-wal-anchor-count":
			merged.Retention.WALAnchorCount = value.(int)
		case "pre-backup-hooks":
			merged.Hooks.PreBackup = value.([]string)
		case "post-backup-hooks":
			merged.Hooks.PostBackup = value.([]string)
		case "tablespace-map":
			merged.TablespaceMap = value.(map[string]string)
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name, "command", command.String())
		}
	}
	return merged
}
