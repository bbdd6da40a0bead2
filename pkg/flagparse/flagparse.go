// Package flagparse turns os.Args into a Command plus a map of only the
// flags the user explicitly set, so config.MergeConfigWithFlags can layer
// them over a loaded configuration without clobbering unset fields.
package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pixelgardenlabs/pgl-backup/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags. Fields are
// pointers so we can distinguish between "not registered for this command"
// (nil) and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	LogLevel *string
	DryRun   *bool

	// Repository: every flag-taking command. Cluster: Backup / Init. FailFast: Backup.
	Cluster    *string
	Repository *string
	FailFast   *bool

	// Backup specific
	BackupType *string
	Fast       *bool

	CopyWorkers      *int
	BufferSizeKB     *int
	WALWaitTimeout   *int
	BackupTimeout    *int
	Compress         *bool
	CompressFormat   *string
	Checksum         *bool
	HardLink         *bool
	TablespaceMapArg *string

	RetentionFullCount     *int
	RetentionDiffCount     *int
	RetentionWALAnchorType *string
	RetentionWALAnchorCnt  *int

	PreBackupHooks  *string
	PostBackupHooks *string

	// RestoreInfo specific
	BackupLabel *string

	// Init specific
	Force *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without making any changes.")
}

func registerRepositoryFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Repository = fs.String("repository", "", "Backup repository root directory. (Required)")
}

func registerBackupFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Cluster = fs.String("cluster", "", "Cluster data directory to back up. (Required)")
	f.FailFast = fs.Bool("fail-fast", false, "Abort the backup immediately on the first non-recoverable copy error.")
	f.BackupType = fs.String("type", "incr", "Backup type: 'full', 'diff', or 'incr'.")
	f.Fast = fs.Bool("fast", false, "Request a faster checkpoint at backup_start, at the cost of a larger burst of write I/O.")

	f.CopyWorkers = fs.Int("copy-workers", 0, "Requested worker count for the parallel copy pipeline.")
	f.BufferSizeKB = fs.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for file copies and checksumming.")
	f.WALWaitTimeout = fs.Int("wal-wait-timeout", 0, "Seconds to wait for each expected WAL segment to appear in the archive.")
	f.BackupTimeout = fs.Int("backup-timeout", 0, "Seconds to bound the whole copy phase; 0 means no additional timeout.")

	f.Compress = fs.Bool("compress", true, "Compress copied files and WAL segments.")
	f.CompressFormat = fs.String("compress-format", "", "Compression format: 'zst' or 'gzip'.")
	f.Checksum = fs.Bool("checksum", true, "Record a checksum for each copied file.")
	f.HardLink = fs.Bool("hardlink", false, "Hard-link unchanged files from the prior backup instead of copying.")
	f.TablespaceMapArg = fs.String("tablespace-map", "", "Comma-separated oid=path overrides for tablespace destinations.")

	f.RetentionFullCount = fs.Int("retention-full-count", 0, "Number of full backups to keep.")
	f.RetentionDiffCount = fs.Int("retention-diff-count", 0, "Number of differential backups to keep among survivors of full retention.")
	f.RetentionWALAnchorType = fs.String("retention-wal-anchor-type", "", "Backup type anchoring WAL retention: 'full', 'diff', or 'incr'.")
	f.RetentionWALAnchorCnt = fs.Int("retention-wal-anchor-count", 0, "Which backup of the anchor type (in reverse label order) anchors WAL retention.")

	f.PreBackupHooks = fs.String("pre-backup-hooks", "", "Comma-separated list of commands to run before backup_start.")
	f.PostBackupHooks = fs.String("post-backup-hooks", "", "Comma-separated list of commands to run when the backup run ends, whether or not it succeeded.")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Cluster = fs.String("cluster", "", "Cluster data directory this repository will back up. (Required)")
	f.Force = fs.Bool("force", false, "Overwrite an existing configuration file.")
}

func registerPruneFlags(fs *flag.FlagSet, f *cliFlags) {
	f.RetentionFullCount = fs.Int("retention-full-count", 0, "Number of full backups to keep.")
	f.RetentionDiffCount = fs.Int("retention-diff-count", 0, "Number of differential backups to keep among survivors of full retention.")
	f.RetentionWALAnchorType = fs.String("retention-wal-anchor-type", "", "Backup type anchoring WAL retention: 'full', 'diff', or 'incr'.")
	f.RetentionWALAnchorCnt = fs.Int("retention-wal-anchor-count", 0, "Which backup of the anchor type (in reverse label order) anchors WAL retention.")
}

func registerRestoreInfoFlags(fs *flag.FlagSet, f *cliFlags) {
	f.BackupLabel = fs.String("label", "", "Backup label to report the required WAL range for (e.g. 'current' for the most recent backup).")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the
// command plus a map of only the flags the user explicitly set.
func Parse(args []string) (Command, map[string]any, error) {
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	f := &cliFlags{}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}

	switch command {
	case Init:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerRepositoryFlags(fs, f)
		registerInitFlags(fs, f)
		fs.Usage = func() { printSubcommandUsage(command, "Create a default configuration file in a repository.", fs) }
		if err := fs.Parse(args[1:]); err != nil {
			return Init, nil, err
		}
		flagMap, err := flagsToMap(command, fs, f)
		return Init, flagMap, err

	case Prune:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerRepositoryFlags(fs, f)
		registerPruneFlags(fs, f)
		fs.Usage = func() { printSubcommandUsage(command, "Apply retention policy to backups and WAL archive.", fs) }
		if err := fs.Parse(args[1:]); err != nil {
			return Prune, nil, err
		}
		flagMap, err := flagsToMap(command, fs, f)
		return Prune, flagMap, err

	case List:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerRepositoryFlags(fs, f)
		fs.Usage = func() { printSubcommandUsage(command, "List backups in a repository.", fs) }
		if err := fs.Parse(args[1:]); err != nil {
			return List, nil, err
		}
		flagMap, err := flagsToMap(command, fs, f)
		return List, flagMap, err

	case RestoreInfo:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerRepositoryFlags(fs, f)
		registerRestoreInfoFlags(fs, f)
		fs.Usage = func() { printSubcommandUsage(command, "Report the WAL range a backup needs without restoring it.", fs) }
		if err := fs.Parse(args[1:]); err != nil {
			return RestoreInfo, nil, err
		}
		flagMap, err := flagsToMap(command, fs, f)
		return RestoreInfo, flagMap, err

	case Backup:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerRepositoryFlags(fs, f)
		registerBackupFlags(fs, f)
		fs.Usage = func() { printSubcommandUsage(command, "Run a full, differential, or incremental backup.", fs) }
		if err := fs.Parse(args[1:]); err != nil {
			return command, nil, err
		}
		flagMap, err := flagsToMap(command, fs, f)
		return command, flagMap, err

	case Version:
		return command, nil, nil

	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}
}

func flagsToMap(c Command, fs *flag.FlagSet, f *cliFlags) (map[string]any, error) {
	usedFlags := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { usedFlags[fl.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)

	addIfUsed(flagMap, usedFlags, "cluster", f.Cluster)
	addIfUsed(flagMap, usedFlags, "repository", f.Repository)
	addIfUsed(flagMap, usedFlags, "fail-fast", f.FailFast)
	addIfUsed(flagMap, usedFlags, "type", f.BackupType)
	addIfUsed(flagMap, usedFlags, "fast", f.Fast)

	addIfUsed(flagMap, usedFlags, "copy-workers", f.CopyWorkers)
	addIfUsed(flagMap, usedFlags, "buffer-size-kb", f.BufferSizeKB)
	addIfUsed(flagMap, usedFlags, "wal-wait-timeout", f.WALWaitTimeout)
	addIfUsed(flagMap, usedFlags, "backup-timeout", f.BackupTimeout)
	addIfUsed(flagMap, usedFlags, "compress", f.Compress)
	addIfUsed(flagMap, usedFlags, "compress-format", f.CompressFormat)
	addIfUsed(flagMap, usedFlags, "checksum", f.Checksum)
	addIfUsed(flagMap, usedFlags, "hardlink", f.HardLink)

	addIfUsed(flagMap, usedFlags, "retention-full-count", f.RetentionFullCount)
	addIfUsed(flagMap, usedFlags, "retention-diff-count", f.RetentionDiffCount)
	addIfUsed(flagMap, usedFlags, "retention-wal-anchor-type", f.RetentionWALAnchorType)
	addIfUsed(flagMap, usedFlags, "retention-wal-anchor-count", f.RetentionWALAnchorCnt)

	addIfUsed(flagMap, usedFlags, "label", f.BackupLabel)
	addIfUsed(flagMap, usedFlags, "force", f.Force)

	// Flags that need parsing/validation beyond a raw scalar.
	addParsedIfUsed(flagMap, usedFlags, "pre-backup-hooks", f.PreBackupHooks, ParseCmdList)
	addParsedIfUsed(flagMap, usedFlags, "post-backup-hooks", f.PostBackupHooks, ParseCmdList)
	addParsedMapIfUsed(flagMap, usedFlags, "tablespace-map", f.TablespaceMapArg, ParseKeyValueList)

	return flagMap, nil
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]any, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]any, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// addParsedMapIfUsed adds the parsed key=value map of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedMapIfUsed(flagMap map[string]any, usedFlags map[string]bool, name string, ptr *string, parser func(string) map[string]string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "A physical backup engine for a clustered relational database.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  backup         Run a full, differential, or incremental backup\n")
	fmt.Fprintf(fs.Output(), "  restore-info   Report the WAL range a backup needs, without restoring\n")
	fmt.Fprintf(fs.Output(), "  prune          Apply retention policy to backups and WAL archive\n")
	fmt.Fprintf(fs.Output(), "  list           List backups in a repository\n")
	fmt.Fprintf(fs.Output(), "  init           Create a default configuration file\n")
	fmt.Fprintf(fs.Output(), "  version        Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "A physical backup engine for a clustered relational database.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseCmdList parses a comma-separated list of shell-like commands.
// It preserves quotes and handles backslash escapes so they can be interpreted by the shell.
func ParseCmdList(s string) []string {
	return parseListInternal(s, true, true)
}

// ParseKeyValueList parses a comma-separated list of "key=value" pairs, e.g.
// tablespace-map overrides ("16400=/mnt/fast,16401=/mnt/slow").
func ParseKeyValueList(s string) map[string]string {
	out := make(map[string]string)
	for _, item := range parseListInternal(s, false, false) {
		k, v, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// parseListInternal is the core implementation for parsing a comma-separated list. It supports
// both single (') and double (") quotes to allow items to contain commas or spaces.
// - `keepQuotes`: Preserves quote characters in the output.
// - `handleEscapes`: Treats backslashes as escape characters.
func parseListInternal(s string, keepQuotes, handleEscapes bool) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	// Helper to add the current buffered item to the list after trimming whitespace.
	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	var isEscaped bool
	for _, r := range s {
		if isEscaped {
			current.WriteRune(r)
			isEscaped = false
			continue
		}

		switch {
		case r == '\\' && handleEscapes:
			isEscaped = true
			// For commands, we also keep the backslash for the shell to interpret.
			current.WriteRune(r)
		case r == '\'' || r == '"':
			if quoteChar == 0 { // Start of a new quoted section.
				quoteChar = r
				if keepQuotes {
					current.WriteRune(r)
				}
			} else if quoteChar == r { // End of the current quoted section.
				quoteChar = 0
				if keepQuotes {
					current.WriteRune(r)
				}
			} else { // A different quote character inside an existing quoted section.
				current.WriteRune(r) // Treat it as a literal character.
			}
		case r == ',' && quoteChar == 0: // Comma outside of any quotes.
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem() // Add the final item after the loop finishes.
	return list
}
