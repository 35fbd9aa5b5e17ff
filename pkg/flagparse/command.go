package flagparse

import (
	"fmt"

	"github.com/paulschiretz/pgl-snapctl/pkg/util"
)

// Command is the subcommand to execute.
type Command int

const (
	None Command = iota
	List
	Actions
	Run
	Rollback
	Export
	Init
	Version
)

var commandToString = map[Command]string{
	None:     "none",
	List:     "list",
	Actions:  "actions",
	Run:      "run",
	Rollback: "rollback",
	Export:   "export",
	Init:     "init",
	Version:  "version",
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
	if command, ok := stringToCommand[s]; ok && command != None {
		return command, nil
	}
	return None, fmt.Errorf("invalid command: %q. Must be 'list', 'actions', 'run', 'rollback', 'export', 'init' or 'version'", s)
}
