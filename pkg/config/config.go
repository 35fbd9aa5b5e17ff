package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/paulschiretz/pgl-snapctl/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snapctl/pkg/export"
	"github.com/paulschiretz/pgl-snapctl/pkg/flagparse"
	"github.com/paulschiretz/pgl-snapctl/pkg/inventory"
	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
	"github.com/paulschiretz/pgl-snapctl/pkg/util"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "pgl-snapctl.config.json"

// userConfigDir is a var so tests can redirect the default location.
var userConfigDir = os.UserConfigDir

var validLogLevels = []string{"debug", "notice", "info", "warn", "error"}

type ScanConfig struct {
	Workers  int  `json:"workers"`  // 0 = one per CPU.
	MaxDepth int  `json:"maxDepth"` // Directory levels below the backup root.
	Metrics  bool `json:"metrics"`  // Log a traversal summary after each scan.
}

type DispatchConfig struct {
	TimeoutSeconds   int `json:"timeoutSeconds"`   // 0 = no limit.
	KillGraceSeconds int `json:"killGraceSeconds"` // SIGTERM to SIGKILL grace on timeout; 0 = minimal.
}

type ExportConfig struct {
	Format export.Format `json:"format"`
	Level  export.Level  `json:"level"`
}

type RuntimeConfig struct {
	DryRun     bool
	ConfigPath string
}

type Config struct {
	Version      string         `json:"version"`
	BackupRoot   string         `json:"backupRoot"`
	ExecutorPath string         `json:"executorPath"`
	LockDir      string         `json:"lockDir"`
	LogLevel     string         `json:"logLevel"`
	Scan         ScanConfig     `json:"scan"`
	Dispatch     DispatchConfig `json:"dispatch"`
	Export       ExportConfig   `json:"export"`
	Runtime      RuntimeConfig  `json:"-"` // Never added to config file
}

// NewDefault creates a Config with sensible defaults. The backup root and the
// executor are left empty to force user configuration.
func NewDefault() Config {
	return Config{
		Version:      buildinfo.Version,
		BackupRoot:   "",
		ExecutorPath: "",
		LockDir:      filepath.Join(os.TempDir(), "pgl-snapctl"),
		LogLevel:     "info",
		Scan: ScanConfig{
			Workers:  4, // Sizing is I/O bound; 4 keeps spinning disks from thrashing.
			MaxDepth: inventory.DefaultMaxDepth,
			Metrics:  true,
		},
		Dispatch: DispatchConfig{
			TimeoutSeconds:   600,
			KillGraceSeconds: 10,
		},
		Export: ExportConfig{
			Format: export.TarZst,
			Level:  export.Default,
		},
	}
}

// DefaultPath returns the configuration file location in the user config directory.
func DefaultPath() (string, error) {
	dir, err := userConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(dir, "pgl-snapctl", ConfigFileName), nil
}

// Load reads the configuration file at path, or at DefaultPath when path is empty.
// A missing file yields the defaults without an error. Fields absent from the
// file keep their default values.
func Load(path string) (Config, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return Config{}, err
		}
	}
	absPath, err := util.ExpandedAbsPath(path)
	if err != nil {
		return Config{}, err
	}

	config := NewDefault()
	config.Runtime.ConfigPath = absPath

	file, err := os.Open(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			plog.Debug("No configuration file found, using defaults", "path", absPath)
			return config, nil
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", absPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", absPath)
	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", absPath, err)
	}

	// NOTE: a version mismatch is where a migration step would go.
	config.Version = buildinfo.Version
	return config, nil
}

// Generate writes c to c.Runtime.ConfigPath, creating parent directories.
func Generate(c Config) error {
	if c.Runtime.ConfigPath == "" {
		return fmt.Errorf("no configuration file path set")
	}
	jsonData, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.Runtime.ConfigPath), util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(c.Runtime.ConfigPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	plog.Info("Successfully saved config file", "path", c.Runtime.ConfigPath)
	return nil
}

// Validate checks the configuration for logical errors and normalises paths
// in place (tilde expansion, absolute form). The backup root must exist.
// requireExecutor is set by commands that dispatch actions.
func (c *Config) Validate(requireExecutor bool) error {
	if c.BackupRoot == "" {
		return fmt.Errorf("backup root cannot be empty")
	}
	root, err := util.ExpandedAbsPath(c.BackupRoot)
	if err != nil {
		return err
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("backup root %s is not accessible: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("backup root %s is not a directory", root)
	}
	c.BackupRoot = root

	if requireExecutor && c.ExecutorPath == "" {
		return fmt.Errorf("executor path cannot be empty")
	}
	if c.ExecutorPath != "" {
		if c.ExecutorPath, err = util.ExpandPath(c.ExecutorPath); err != nil {
			return err
		}
	}

	if c.LockDir != "" {
		lockDir, err := util.ExpandedAbsPath(c.LockDir)
		if err != nil {
			return err
		}
		if rel, err := filepath.Rel(root, lockDir); err == nil && rel != ".." && !startsWithParent(rel) {
			return fmt.Errorf("lock directory %s must not be inside the backup root", lockDir)
		}
		c.LockDir = lockDir
	}

	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level %q. Must be one of %v", c.LogLevel, validLogLevels)
	}
	if c.Scan.Workers < 0 {
		return fmt.Errorf("scan.workers cannot be negative")
	}
	if c.Scan.MaxDepth < 0 {
		return fmt.Errorf("scan.maxDepth cannot be negative")
	}
	if c.Dispatch.TimeoutSeconds < 0 {
		return fmt.Errorf("dispatch.timeoutSeconds cannot be negative")
	}
	if c.Dispatch.KillGraceSeconds < 0 {
		return fmt.Errorf("dispatch.killGraceSeconds cannot be negative")
	}
	if _, err := export.ParseFormat(string(c.Export.Format)); err != nil {
		return err
	}
	if _, err := export.ParseLevel(string(c.Export.Level)); err != nil {
		return err
	}
	return nil
}

func startsWithParent(rel string) bool {
	return len(rel) > 2 && rel[:2] == ".." && os.IsPathSeparator(rel[2])
}

// ActionTimeout returns the per-action execution limit; zero means none.
func (c *Config) ActionTimeout() time.Duration {
	return time.Duration(c.Dispatch.TimeoutSeconds) * time.Second
}

// KillGrace returns how long an interrupted executor may take to exit.
func (c *Config) KillGrace() time.Duration {
	return time.Duration(c.Dispatch.KillGraceSeconds) * time.Second
}

// LogSummary logs the effective configuration.
func (c *Config) LogSummary() {
	logArgs := []any{
		"config", c.Runtime.ConfigPath,
		"log_level", c.LogLevel,
		"root", c.BackupRoot,
		"executor", c.ExecutorPath,
		"lock_dir", c.LockDir,
		"dry_run", c.Runtime.DryRun,
		"scan_workers", c.Scan.Workers,
		"max_depth", c.Scan.MaxDepth,
	}
	if c.Dispatch.TimeoutSeconds > 0 {
		logArgs = append(logArgs, "timeout", c.ActionTimeout(), "kill_grace", c.KillGrace())
	} else {
		logArgs = append(logArgs, "timeout", "none")
	}
	logArgs = append(logArgs, "export", fmt.Sprintf("%s (l:%s)", c.Export.Format, c.Export.Level))
	plog.Info("Configuration loaded", logArgs...)
}

// MergeConfigWithFlags overlays the flags the user set explicitly on top of base.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "root":
			merged.BackupRoot = value.(string)
		case "executor":
			merged.ExecutorPath = value.(string)
		case "lock-dir":
			merged.LockDir = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "timeout":
			merged.Dispatch.TimeoutSeconds = value.(int)
		case "scan-workers":
			merged.Scan.Workers = value.(int)
		case "metrics":
			merged.Scan.Metrics = value.(bool)
		case "format":
			switch command {
			case flagparse.Export:
				merged.Export.Format = export.Format(value.(string))
			default:
			}
		case "level":
			merged.Export.Level = export.Level(value.(string))
		case "config", "json", "id", "force", "action", "out":
			// Per-invocation flags, read by the command itself.
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}
