package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pixelgardenlabs/pgl-backup/pkg/buildinfo"
	"github.com/pixelgardenlabs/pgl-backup/pkg/config"
	"github.com/pixelgardenlabs/pgl-backup/pkg/flagparse"
	"github.com/pixelgardenlabs/pgl-backup/pkg/plog"
)

// RunInit handles the logic for the 'init' command: writes a default
// configuration file into a repository so a later backup/prune/list run
// has something to load.
func RunInit(flagMap map[string]any) error {
	repository, ok := flagMap["repository"].(string)
	if !ok || repository == "" {
		return fmt.Errorf("the -repository flag is required for the init operation")
	}
	absRepo, err := filepath.Abs(repository)
	if err != nil {
		return fmt.Errorf("could not determine absolute repository path for %s: %w", repository, err)
	}

	force, _ := flagMap["force"].(bool)
	configPath := filepath.Join(absRepo, config.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists at %s; pass -force to overwrite it", configPath)
	}

	if err := os.MkdirAll(absRepo, 0o755); err != nil {
		return fmt.Errorf("could not create repository directory %s: %w", absRepo, err)
	}

	baseConfig := config.NewDefault()
	baseConfig.RepositoryRoot = absRepo
	runConfig := config.MergeConfigWithFlags(flagparse.Init, baseConfig, flagMap)

	if runConfig.ClusterDataDir == "" {
		return fmt.Errorf("the -cluster flag is required for the init operation")
	}
	if err := runConfig.Validate(true); err != nil {
		return err
	}

	if err := config.Generate(runConfig); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}

	plog.Info(buildinfo.Name+" repository initialized.", "repository", absRepo, "config", configPath)
	return nil
}
