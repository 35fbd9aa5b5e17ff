package cmd_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-snapctl/cmd"
	"github.com/paulschiretz/pgl-snapctl/pkg/config"
	"github.com/paulschiretz/pgl-snapctl/pkg/dispatch"
	"github.com/paulschiretz/pgl-snapctl/pkg/export"
	"github.com/paulschiretz/pgl-snapctl/pkg/hints"
	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
	"github.com/paulschiretz/pgl-snapctl/pkg/snapshot"
)

const (
	hourlyID = "hourly/backup_2024-03-01_12-00-00"
	dailyID  = "daily/backup_2024-02-29_00-00-00"
)

// testEnv is a backup root with two snapshots plus a recording executor.
type testEnv struct {
	root       string
	configPath string
	lockDir    string
	executor   string
	callLog    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	plog.SetOutput(io.Discard)

	base := t.TempDir()
	env := &testEnv{
		root:       filepath.Join(base, "backups"),
		configPath: filepath.Join(base, "config", config.ConfigFileName),
		lockDir:    filepath.Join(base, "locks"),
		callLog:    filepath.Join(base, "calls.log"),
	}

	writeFile(t, filepath.Join(env.root, "hourly", "backup_2024-03-01_12-00-00", "data.bin"), 1000)
	writeFile(t, filepath.Join(env.root, "daily", "backup_2024-02-29_00-00-00", "data.bin"), 2000)

	if runtime.GOOS != "windows" {
		env.executor = filepath.Join(base, "executor.sh")
		script := "#!/bin/sh\necho \"$@\" >> \"" + env.callLog + "\"\necho \"ran $1\"\n"
		if err := os.WriteFile(env.executor, []byte(script), 0755); err != nil {
			t.Fatal(err)
		}
	}
	return env
}

func (e *testEnv) flags(extra map[string]any) map[string]any {
	flags := map[string]any{
		"config":   e.configPath,
		"root":     e.root,
		"lock-dir": e.lockDir,
	}
	if e.executor != "" {
		flags["executor"] = e.executor
	}
	for k, v := range extra {
		flags[k] = v
	}
	return flags
}

// calls returns the executor invocations recorded so far, one per line.
func (e *testEnv) calls(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(e.callLog)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func requireExecutor(t *testing.T, e *testEnv) {
	t.Helper()
	if e.executor == "" {
		t.Skip("shell script executor not available on windows")
	}
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0644); err != nil {
		t.Fatal(err)
	}
}

// withStdio runs fn with os.Stdin fed from input and returns what fn wrote to os.Stdout.
func withStdio(t *testing.T, input string, fn func() error) (string, error) {
	t.Helper()

	rIn, wIn, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	rOut, wOut, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}

	origStdin := os.Stdin
	origStdout := os.Stdout
	defer func() {
		os.Stdin = origStdin
		os.Stdout = origStdout
	}()
	os.Stdin = rIn
	os.Stdout = wOut

	go func() {
		defer wIn.Close()
		io.WriteString(wIn, input)
	}()

	var out bytes.Buffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer rOut.Close()
		io.Copy(&out, rOut)
	}()

	runErr := fn()
	wOut.Close()
	<-done
	rIn.Close()
	return out.String(), runErr
}

func TestRunList_JSON(t *testing.T) {
	env := newTestEnv(t)

	out, err := withStdio(t, "", func() error {
		return cmd.RunList(context.Background(), env.flags(map[string]any{"json": true}))
	})
	if err != nil {
		t.Fatalf("RunList failed: %v", err)
	}

	var got struct {
		Root      string `json:"root"`
		Snapshots []struct {
			ID        string `json:"id"`
			Tier      string `json:"tier"`
			SizeBytes uint64 `json:"sizeBytes"`
		} `json:"snapshots"`
		Tiers []struct {
			Tier  string `json:"tier"`
			Count int    `json:"count"`
		} `json:"tiers"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}

	if got.Root != env.root {
		t.Errorf("expected root %s, got %s", env.root, got.Root)
	}
	if len(got.Snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(got.Snapshots))
	}
	if got.Snapshots[0].ID != hourlyID || got.Snapshots[0].Tier != "hourly" || got.Snapshots[0].SizeBytes != 1000 {
		t.Errorf("unexpected first snapshot: %+v", got.Snapshots[0])
	}
	if got.Snapshots[1].ID != dailyID || got.Snapshots[1].SizeBytes != 2000 {
		t.Errorf("unexpected second snapshot: %+v", got.Snapshots[1])
	}

	var tiers []string
	for _, s := range got.Tiers {
		tiers = append(tiers, s.Tier)
	}
	if want := []string{"15min", "hourly", "daily", "weekly"}; !slices.Equal(tiers, want) {
		t.Errorf("expected tiers %v, got %v", want, tiers)
	}
}

func TestRunList_Table(t *testing.T) {
	env := newTestEnv(t)

	out, err := withStdio(t, "", func() error {
		return cmd.RunList(context.Background(), env.flags(nil))
	})
	if err != nil {
		t.Fatalf("RunList failed: %v", err)
	}

	hourly := strings.Index(out, "backup_2024-03-01_12-00-00")
	daily := strings.Index(out, "backup_2024-02-29_00-00-00")
	if hourly < 0 || daily < 0 || hourly > daily {
		t.Errorf("expected hourly snapshot listed before daily, got:\n%s", out)
	}
	// The weekly tier is empty and therefore overdue.
	if !strings.Contains(out, "OVERDUE") {
		t.Errorf("expected an overdue tier in the summary, got:\n%s", out)
	}
}

func TestRunList_MissingRoot(t *testing.T) {
	env := newTestEnv(t)
	flags := env.flags(map[string]any{"root": filepath.Join(env.root, "missing")})

	if err := cmd.RunList(context.Background(), flags); err == nil {
		t.Error("expected an error for a missing backup root")
	}
}

func TestRunActions(t *testing.T) {
	env := newTestEnv(t)

	out, err := withStdio(t, "", func() error {
		return cmd.RunActions(context.Background(), env.flags(nil))
	})
	if err != nil {
		t.Fatalf("RunActions failed: %v", err)
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected 6 actions, got %d:\n%s", len(lines), out)
	}
	for i, want := range []string{"1) start", "2) stop", "3) restart", "4) update"} {
		if strings.TrimSpace(lines[i]) != want {
			t.Errorf("line %d: expected %q, got %q", i, want, lines[i])
		}
	}
	if !strings.Contains(lines[4], "rollback hourly") || !strings.Contains(lines[5], "rollback daily") {
		t.Errorf("expected rollbacks in inventory order, got:\n%s", out)
	}
}

func TestRunRun(t *testing.T) {
	env := newTestEnv(t)
	requireExecutor(t, env)

	out, err := withStdio(t, "", func() error {
		return cmd.RunRun(context.Background(), env.flags(map[string]any{"action": "restart"}))
	})
	if err != nil {
		t.Fatalf("RunRun failed: %v", err)
	}
	if !strings.Contains(out, "ran restart") {
		t.Errorf("expected executor output to be forwarded, got %q", out)
	}
	if calls := env.calls(t); !slices.Equal(calls, []string{"restart"}) {
		t.Errorf("unexpected executor calls: %v", calls)
	}
}

func TestRunRun_Rejected(t *testing.T) {
	env := newTestEnv(t)
	requireExecutor(t, env)

	tests := []struct {
		name  string
		flags map[string]any
		kind  dispatch.Kind
	}{
		{"unknown action", map[string]any{"action": "reboot"}, dispatch.KindUnknownAction},
		{"traversal", map[string]any{"action": "rollback", "id": "../etc/backup_2024-03-01_12-00-00"}, dispatch.KindInvalidIdentifier},
		{"missing payload", map[string]any{"action": "rollback"}, dispatch.KindInvalidIdentifier},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := cmd.RunRun(context.Background(), env.flags(tc.flags))
			var dispatchErr *dispatch.Error
			if !errors.As(err, &dispatchErr) {
				t.Fatalf("expected *dispatch.Error, got %v", err)
			}
			if dispatchErr.Kind != tc.kind {
				t.Errorf("expected kind %s, got %s", tc.kind, dispatchErr.Kind)
			}
		})
	}
	if calls := env.calls(t); len(calls) != 0 {
		t.Errorf("rejected requests must not reach the executor, got %v", calls)
	}
}

func TestRunRun_RequiresAction(t *testing.T) {
	env := newTestEnv(t)
	if err := cmd.RunRun(context.Background(), env.flags(nil)); err == nil {
		t.Error("expected an error when -action is missing")
	}
}

func TestRunRun_RequiresExecutor(t *testing.T) {
	env := newTestEnv(t)
	flags := env.flags(map[string]any{"action": "start"})
	delete(flags, "executor")

	if err := cmd.RunRun(context.Background(), flags); err == nil {
		t.Error("expected an error when no executor is configured")
	}
}

func TestRunRollback_Latest(t *testing.T) {
	env := newTestEnv(t)
	requireExecutor(t, env)

	_, err := withStdio(t, "", func() error {
		return cmd.RunRollback(context.Background(), env.flags(map[string]any{"id": "latest", "force": true}))
	})
	if err != nil {
		t.Fatalf("RunRollback failed: %v", err)
	}

	want := "restore " + filepath.Join(env.root, "hourly", "backup_2024-03-01_12-00-00") + "/."
	if calls := env.calls(t); !slices.Equal(calls, []string{want}) {
		t.Errorf("expected call %q, got %v", want, calls)
	}
}

func TestRunRollback_Interactive(t *testing.T) {
	env := newTestEnv(t)
	requireExecutor(t, env)

	// Pick the second entry, then confirm.
	_, err := withStdio(t, "2\ny\n", func() error {
		return cmd.RunRollback(context.Background(), env.flags(nil))
	})
	if err != nil {
		t.Fatalf("RunRollback failed: %v", err)
	}

	want := "restore " + filepath.Join(env.root, "daily", "backup_2024-02-29_00-00-00") + "/."
	if calls := env.calls(t); !slices.Equal(calls, []string{want}) {
		t.Errorf("expected call %q, got %v", want, calls)
	}
}

func TestRunRollback_Canceled(t *testing.T) {
	env := newTestEnv(t)
	requireExecutor(t, env)

	tests := []struct {
		name  string
		input string
		flags map[string]any
	}{
		{"default selection cancels", "\n", nil},
		{"quit", "q\n", nil},
		{"confirmation declined", "n\n", map[string]any{"id": hourlyID}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := withStdio(t, tc.input, func() error {
				return cmd.RunRollback(context.Background(), env.flags(tc.flags))
			})
			if err != nil {
				t.Fatalf("expected nil for a canceled rollback, got %v", err)
			}
		})
	}
	if calls := env.calls(t); len(calls) != 0 {
		t.Errorf("canceled rollbacks must not reach the executor, got %v", calls)
	}
}

func TestRunRollback_UnknownSnapshot(t *testing.T) {
	env := newTestEnv(t)
	requireExecutor(t, env)

	err := cmd.RunRollback(context.Background(), env.flags(map[string]any{"id": "weekly/backup_2020-01-01_00-00-00", "force": true}))
	if err == nil {
		t.Fatal("expected an error for a snapshot that does not exist")
	}
	if calls := env.calls(t); len(calls) != 0 {
		t.Errorf("unexpected executor calls: %v", calls)
	}
}

func TestRunRollback_NoSnapshots(t *testing.T) {
	env := newTestEnv(t)
	requireExecutor(t, env)
	empty := t.TempDir()

	err := cmd.RunRollback(context.Background(), env.flags(map[string]any{"root": empty, "id": "latest", "force": true}))
	if !hints.IsHint(err) {
		t.Errorf("expected a hint for an empty inventory, got %v", err)
	}
}

func TestRunRollback_DryRun(t *testing.T) {
	env := newTestEnv(t)
	requireExecutor(t, env)

	err := cmd.RunRollback(context.Background(), env.flags(map[string]any{"id": hourlyID, "dry-run": true}))
	if err != nil {
		t.Fatalf("RunRollback failed: %v", err)
	}
	if calls := env.calls(t); len(calls) != 0 {
		t.Errorf("dry run must not reach the executor, got %v", calls)
	}
}

func TestRunExport(t *testing.T) {
	env := newTestEnv(t)
	out := filepath.Join(t.TempDir(), "snap.tar.gz")

	err := cmd.RunExport(context.Background(), env.flags(map[string]any{"id": "latest", "out": out}))
	if err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	// The suffix selects gzip even though the default format is zstd.
	names, err := export.List(out, export.TarGz)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"backup_2024-03-01_12-00-00/", "backup_2024-03-01_12-00-00/data.bin"}
	if !slices.Equal(names, want) {
		t.Errorf("unexpected entries:\n got: %v\nwant: %v", names, want)
	}
}

func TestRunExport_RequiresFlags(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		flags map[string]any
	}{
		{"missing id", map[string]any{"out": filepath.Join(t.TempDir(), "a.tar.zst")}},
		{"missing out", map[string]any{"id": dailyID}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := cmd.RunExport(context.Background(), env.flags(tc.flags)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestRunInit(t *testing.T) {
	env := newTestEnv(t)
	flags := map[string]any{
		"config":   env.configPath,
		"root":     env.root,
		"executor": "/usr/local/bin/lifecycle",
		"timeout":  30,
	}

	if err := cmd.RunInit(context.Background(), flags); err != nil {
		t.Fatalf("RunInit failed: %v", err)
	}

	loaded, err := config.Load(env.configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.BackupRoot != env.root {
		t.Errorf("expected root %s, got %s", env.root, loaded.BackupRoot)
	}
	if loaded.ExecutorPath != "/usr/local/bin/lifecycle" {
		t.Errorf("unexpected executor path %s", loaded.ExecutorPath)
	}
	if loaded.Dispatch.TimeoutSeconds != 30 {
		t.Errorf("expected timeout 30, got %d", loaded.Dispatch.TimeoutSeconds)
	}

	// An existing file is kept unless the user confirms.
	flags["timeout"] = 60
	if _, err := withStdio(t, "n\n", func() error { return cmd.RunInit(context.Background(), flags) }); err != nil {
		t.Fatalf("RunInit failed: %v", err)
	}
	if loaded, _ = config.Load(env.configPath); loaded.Dispatch.TimeoutSeconds != 30 {
		t.Errorf("declined overwrite changed the file: timeout %d", loaded.Dispatch.TimeoutSeconds)
	}

	flags["force"] = true
	if err := cmd.RunInit(context.Background(), flags); err != nil {
		t.Fatalf("RunInit with force failed: %v", err)
	}
	if loaded, _ = config.Load(env.configPath); loaded.Dispatch.TimeoutSeconds != 60 {
		t.Errorf("forced overwrite did not update the file: timeout %d", loaded.Dispatch.TimeoutSeconds)
	}
}

func TestRunInit_RequiresFlags(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		flags map[string]any
	}{
		{"missing root", map[string]any{"config": env.configPath, "executor": "/bin/true"}},
		{"missing executor", map[string]any{"config": env.configPath, "root": env.root}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := cmd.RunInit(context.Background(), tc.flags); err == nil {
				t.Error("expected an error")
			}
			if _, err := os.Stat(env.configPath); !errors.Is(err, os.ErrNotExist) {
				t.Error("no config file should have been written")
			}
		})
	}
}

func TestPromptSnapshotSelection(t *testing.T) {
	plog.SetOutput(io.Discard)

	records := []snapshot.Record{
		snapshot.NewRecord(hourlyID, 1000),
		snapshot.NewRecord(dailyID, 2000),
	}

	tests := []struct {
		name           string
		input          string
		expectedResult string
		expectHint     bool
	}{
		{"select first", "1\n", hourlyID, false},
		{"select second", "2\n", dailyID, false},
		{"invalid then valid", "9\nabc\n2\n", dailyID, false},
		{"default cancels", "\n", "", true},
		{"explicit cancel option", "3\n", "", true},
		{"quit", "quit\n", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var result string
			_, err := withStdio(t, tc.input, func() error {
				var err error
				result, err = cmd.PromptSnapshotSelection(records)
				return err
			})

			if tc.expectHint {
				if !hints.IsHint(err) {
					t.Errorf("expected a hint error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tc.expectedResult {
				t.Errorf("expected %q, got %q", tc.expectedResult, result)
			}
		})
	}
}

func TestPromptForConfirmation(t *testing.T) {
	tests := []struct {
		input      string
		defaultYes bool
		expected   bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", true, false},
		{"\n", true, true},
		{"\n", false, false},
		{"maybe\n", true, false},
	}

	for _, tc := range tests {
		var got bool
		withStdio(t, tc.input, func() error {
			got = cmd.PromptForConfirmation("Continue?", tc.defaultYes)
			return nil
		})
		if got != tc.expected {
			t.Errorf("input %q (defaultYes=%v): expected %v, got %v", tc.input, tc.defaultYes, tc.expected, got)
		}
	}
}
