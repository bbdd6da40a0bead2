package flagparse

import (
	"fmt"

	"github.com/pixelgardenlabs/pgl-backup/pkg/util"
)

// Command identifies the subcommand the CLI was invoked with.
type Command int

const (
	None = iota
	Backup
	RestoreInfo
	Prune
	List
	Init
	Version
)

var commandToString = map[Command]string{
	None:        "none",
	Backup:      "backup",
	RestoreInfo: "restore-info",
	Prune:       "prune",
	List:        "list",
	Init:        "init",
	Version:     "version",
}

var stringToCommand map[string]Command

func init() {
	stringToCommand = util.InvertMap(commandToString)
}

func (c Command) String() string {
	if str, ok := commandToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_command(%d)", c)
}

func ParseCommand(s string) (Command, error) {
	if command, ok := stringToCommand[s]; ok {
		return command, nil
	}
	return None, fmt.Errorf("invalid command: %q. Must be 'backup', 'restore-info', 'prune', 'list', 'init', or 'version'", s)
}
