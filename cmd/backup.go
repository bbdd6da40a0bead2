package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/pixelgardenlabs/pgl-backup/pkg/backuplabel"
	"github.com/pixelgardenlabs/pgl-backup/pkg/buildinfo"
	"github.com/pixelgardenlabs/pgl-backup/pkg/config"
	"github.com/pixelgardenlabs/pgl-backup/pkg/engine"
	"github.com/pixelgardenlabs/pgl-backup/pkg/flagparse"
	"github.com/pixelgardenlabs/pgl-backup/pkg/plog"
)

var backupTypeByName = map[string]backuplabel.Type{
	"full": backuplabel.Full,
	"diff": backuplabel.Diff,
	"incr": backuplabel.Incr,
}

// RunBackup handles the logic for the main backup execution.
func RunBackup(ctx context.Context, flagMap map[string]any) error {
	repository, ok := flagMap["repository"].(string)
	if !ok || repository == "" {
		return fmt.Errorf("the -repository flag is required to run a backup")
	}

	loadedConfig, err := config.Load(repository)
	if err != nil {
		return fmt.Errorf("failed to load configuration from repository: %w", err)
	}

	runConfig := config.MergeConfigWithFlags(flagparse.Backup, loadedConfig, flagMap)
	if err := runConfig.Validate(true); err != nil {
		return err
	}

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	runConfig.LogSummary()

	typeName, _ := flagMap["type"].(string)
	if typeName == "" {
		typeName = "incr"
	}
	backupType, ok := backupTypeByName[typeName]
	if !ok {
		return fmt.Errorf("invalid -type %q: must be 'full', 'diff', or 'incr'", typeName)
	}
	fast, _ := flagMap["fast"].(bool)

	fs, db, hooks := newCollaborators(runConfig)

	startTime := time.Now()
	eng := engine.New(runConfig, fs, db, hooks)
	if err := eng.Backup(ctx, backupType, fast); err != nil {
		return err
	}
	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" backup finished successfully.", "duration", duration)
	return nil
}
