package flagparse

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-snapctl/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// A nil field was not registered for the parsed command.
type cliFlags struct {
	// Global
	ConfigPath *string
	LogLevel   *string
	DryRun     *bool
	Executor   *string
	Timeout    *int

	// Shared
	Root    *string
	LockDir *string
	JSON    *bool
	ID      *string
	Force   *bool

	// Run
	Action *string

	// Export
	Out    *string
	Format *string
	Level  *string

	// List / Actions
	ScanWorkers *int
	Metrics     *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.ConfigPath = fs.String("config", "", "Path to the configuration file. Defaults to the user config directory.")
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without running the executor or writing files.")
	f.Executor = fs.String("executor", "", "Path of the lifecycle program that performs start, stop, restart, update and restore.")
	f.Timeout = fs.Int("timeout", 0, "Seconds an action may run before it is stopped (0 = no limit).")
	f.Root = fs.String("root", "", "Backup root directory containing the tier directories.")
}

func registerInventoryFlags(fs *flag.FlagSet, f *cliFlags) {
	f.JSON = fs.Bool("json", false, "Print machine-readable JSON instead of a table.")
	f.ScanWorkers = fs.Int("scan-workers", 0, "Number of snapshots sized in parallel.")
	f.Metrics = fs.Bool("metrics", true, "Log traversal counters after the scan.")
}

func registerRunFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Action = fs.String("action", "", "Action to run: 'start', 'stop', 'restart', 'update' or 'rollback'. (Required)")
	f.ID = fs.String("id", "", "Snapshot identifier for rollback, e.g. 'hourly/backup_2024-03-01_12-00-00'.")
	f.LockDir = fs.String("lock-dir", "", "Directory holding the cross-process lock for the backup root.")
}

func registerRollbackFlags(fs *flag.FlagSet, f *cliFlags) {
	f.ID = fs.String("id", "", "Snapshot identifier or 'latest'. Omit to choose interactively.")
	f.Force = fs.Bool("force", false, "Skip the confirmation prompt.")
	f.LockDir = fs.String("lock-dir", "", "Directory holding the cross-process lock for the backup root.")
}

func registerExportFlags(fs *flag.FlagSet, f *cliFlags) {
	f.ID = fs.String("id", "", "Snapshot identifier or 'latest'. (Required)")
	f.Out = fs.String("out", "", "Archive file to write. (Required)")
	f.Format = fs.String("format", "", "Archive format: 'tar.gz' or 'tar.zst'. Guessed from -out when omitted.")
	f.Level = fs.String("level", "", "Compression level: 'default', 'fastest', 'better', 'best'.")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LockDir = fs.String("lock-dir", "", "Directory holding the cross-process lock for the backup root.")
	f.Force = fs.Bool("force", false, "Overwrite an existing configuration file.")
}

// usageOutput receives help and parse errors. Tests silence it.
var usageOutput io.Writer = os.Stderr

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(usageOutput)
	return fs
}

var commandDescriptions = map[Command]string{
	List:     "List the snapshots of the backup root with per-tier totals.",
	Actions:  "List the actions that can be dispatched.",
	Run:      "Run a lifecycle action or a rollback.",
	Rollback: "Restore the application from a snapshot.",
	Export:   "Pack a snapshot into a compressed archive.",
	Init:     "Write a configuration file.",
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the
// command and a map holding only the flags the user set explicitly.
func Parse(args []string) (Command, map[string]any, error) {
	if len(args) == 0 {
		printTopLevelUsage(newFlagSet("main"))
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])
	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		printTopLevelUsage(newFlagSet("main"))
		return None, nil, nil
	}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}
	if command == Version {
		return command, nil, nil
	}

	f := &cliFlags{}
	fs := newFlagSet(command.String())
	registerGlobalFlags(fs, f)

	switch command {
	case List, Actions:
		registerInventoryFlags(fs, f)
	case Run:
		registerRunFlags(fs, f)
	case Rollback:
		registerRollbackFlags(fs, f)
	case Export:
		registerExportFlags(fs, f)
	case Init:
		registerInitFlags(fs, f)
	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}

	fs.Usage = func() {
		printSubcommandUsage(command, commandDescriptions[command], fs)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	if fs.NArg() > 0 {
		return command, nil, fmt.Errorf("unexpected arguments for %s: %s", command, strings.Join(fs.Args(), " "))
	}
	return command, flagsToMap(fs, f), nil
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) map[string]any {
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)
	addIfUsed(flagMap, usedFlags, "config", f.ConfigPath)
	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)
	addIfUsed(flagMap, usedFlags, "executor", f.Executor)
	addIfUsed(flagMap, usedFlags, "timeout", f.Timeout)
	addIfUsed(flagMap, usedFlags, "root", f.Root)
	addIfUsed(flagMap, usedFlags, "lock-dir", f.LockDir)
	addIfUsed(flagMap, usedFlags, "json", f.JSON)
	addIfUsed(flagMap, usedFlags, "scan-workers", f.ScanWorkers)
	addIfUsed(flagMap, usedFlags, "metrics", f.Metrics)
	addIfUsed(flagMap, usedFlags, "id", f.ID)
	addIfUsed(flagMap, usedFlags, "force", f.Force)
	addIfUsed(flagMap, usedFlags, "action", f.Action)
	addIfUsed(flagMap, usedFlags, "out", f.Out)
	addIfUsed(flagMap, usedFlags, "format", f.Format)
	addIfUsed(flagMap, usedFlags, "level", f.Level)
	return flagMap
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]any, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Inspect backup snapshots and drive application lifecycle actions.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  list        List snapshots with per-tier totals\n")
	fmt.Fprintf(fs.Output(), "  actions     List dispatchable actions\n")
	fmt.Fprintf(fs.Output(), "  run         Run an action\n")
	fmt.Fprintf(fs.Output(), "  rollback    Restore from a snapshot\n")
	fmt.Fprintf(fs.Output(), "  export      Pack a snapshot into an archive\n")
	fmt.Fprintf(fs.Output(), "  init        Write a configuration file\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s)\n\n", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}
