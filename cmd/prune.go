package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/pixelgardenlabs/pgl-backup/pkg/buildinfo"
	"github.com/pixelgardenlabs/pgl-backup/pkg/config"
	"github.com/pixelgardenlabs/pgl-backup/pkg/engine"
	"github.com/pixelgardenlabs/pgl-backup/pkg/flagparse"
	"github.com/pixelgardenlabs/pgl-backup/pkg/plog"
)

// RunPrune handles the logic for the prune command.
func RunPrune(ctx context.Context, flagMap map[string]any) error {
	repository, ok := flagMap["repository"].(string)
	if !ok || repository == "" {
		return fmt.Errorf("the -repository flag is required to run prune")
	}

	loadedConfig, err := config.Load(repository)
	if err != nil {
		return fmt.Errorf("failed to load configuration from repository: %w", err)
	}

	runConfig := config.MergeConfigWithFlags(flagparse.Prune, loadedConfig, flagMap)
	if err := runConfig.Validate(false); err != nil {
		return err
	}

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	runConfig.LogSummary()

	fs, db, hooks := newCollaborators(runConfig)

	startTime := time.Now()
	eng := engine.New(runConfig, fs, db, hooks)
	if err := eng.Prune(ctx); err != nil {
		return err
	}
	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" prune finished successfully.", "duration", duration)
	return nil
}
