package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/doctor"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/inspect"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

// writeConfig lays out a config dir with one included chains file and an
// empty plugins dir. The queue lives in the same temp dir.
func writeConfig(t *testing.T, extra string) (dir, configPath string) {
	t.Helper()
	dir = t.TempDir()
	configPath = filepath.Join(dir, "config.yaml")

	pluginsDir := filepath.Join(dir, "plugins")
	if err := os.MkdirAll(pluginsDir, 0755); err != nil {
		t.Fatal(err)
	}

	configYAML := `
include:
  - chains.yaml
state:
  path: ` + filepath.Join(dir, "relayd.db") + `
plugins_dir: ` + pluginsDir + `
` + extra
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}

	chainsYAML := `
chains:
  - name: osmosis
    rpc_url: http://127.0.0.1:26657
    denom: uosmo
    keyring:
      name: relayer
      keys:
        - name: k1
          address: osmo1aaa
`
	if err := os.WriteFile(filepath.Join(dir, "chains.yaml"), []byte(chainsYAML), 0644); err != nil {
		t.Fatal(err)
	}
	return dir, configPath
}

func writePlugin(t *testing.T, pluginsDir, name string) {
	t.Helper()
	dir := filepath.Join(pluginsDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	manifest := "name: " + name +
		"\nversion: 0.1.0\nprotocol: 1\nentrypoint: run.sh\ncapabilities: [filter, process]\n"
	if err := os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "run.sh"), []byte("#!/bin/sh\necho '{\"status\":\"ok\"}'\n"), 0755); err != nil {
		t.Fatal(err)
	}
}

func TestRunConfigLockVerboseDryRunShortFlag(t *testing.T) {
	dir, configPath := writeConfig(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", configPath, "-v", "--dry-run"})
	})
	if code != 0 {
		t.Fatalf("runConfigLock() code = %d, stderr: %s", code, stderr)
	}

	if !strings.Contains(stdout, "Processing directory:") {
		t.Fatalf("stdout missing verbose directory progress: %s", stdout)
	}
	hashPattern := regexp.MustCompile(`HASH chains\.yaml: [a-f0-9]{64}`)
	if !hashPattern.MatchString(stdout) {
		t.Fatalf("stdout missing valid hash output: %s", stdout)
	}
	if !strings.Contains(stdout, "DRY-RUN .checksums:") {
		t.Fatalf("stdout missing dry-run line: %s", stdout)
	}
	if !strings.Contains(stdout, "Dry run completed") {
		t.Fatalf("stdout missing dry-run summary: %s", stdout)
	}

	if _, err := os.Stat(filepath.Join(dir, ".checksums")); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestRunConfigLockWritesChecksumsThenCheckPasses(t *testing.T) {
	dir, configPath := writeConfig(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", configPath, "--verbose"})
	})
	if code != 0 {
		t.Fatalf("runConfigLock() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "WROTE .checksums:") {
		t.Fatalf("stdout missing wrote checksums line: %s", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, ".checksums")); err != nil {
		t.Fatalf("expected .checksums to be written: %v", err)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath, "--strict"})
	})
	if code != 0 {
		t.Fatalf("runConfigCheck() code = %d, stdout: %s, stderr: %s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "Configuration valid.") {
		t.Fatalf("stdout missing valid summary: %s", stdout)
	}
}

func TestRunConfigCheckDetectsTamperedInclude(t *testing.T) {
	dir, configPath := writeConfig(t, "")

	if code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", configPath})
	}); code != 0 {
		t.Fatalf("runConfigLock() code = %d, stderr: %s", code, stderr)
	}

	f, err := os.OpenFile(filepath.Join(dir, "chains.yaml"), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("# edited\n")
	_ = f.Close()

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath, "--json"})
	})
	if code != 1 {
		t.Fatalf("runConfigCheck() code = %d, want 1; stdout: %s", code, stdout)
	}

	var report doctor.Result
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("invalid JSON report: %v\n%s", err, stdout)
	}
	if report.Valid || len(report.Errors) == 0 {
		t.Fatalf("expected invalid report with errors, got %+v", report)
	}
}

func TestRunConfigCheckStrictFailsOnWarnings(t *testing.T) {
	_, configPath := writeConfig(t, "")

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath, "--strict"})
	})
	if code != 2 {
		t.Fatalf("runConfigCheck() code = %d, want 2 (missing manifest warning); stdout: %s", code, stdout)
	}
	if !strings.Contains(stdout, "WARN") {
		t.Fatalf("stdout missing warning: %s", stdout)
	}
}

func TestRunConfigCheckReportsMissingEnabledPlugin(t *testing.T) {
	_, configPath := writeConfig(t, "plugins:\n  packet-claimer:\n    enabled: true\n")

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath})
	})
	if code != 1 {
		t.Fatalf("runConfigCheck() code = %d, want 1; stdout: %s", code, stdout)
	}
	if !strings.Contains(stdout, `plugin "packet-claimer" is enabled but not found`) {
		t.Fatalf("stdout missing plugin error: %s", stdout)
	}
}

func TestRunConfigGetAndShow(t *testing.T) {
	_, configPath := writeConfig(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigGet([]string{"chain:osmosis.denom", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runConfigGet() code = %d, stderr: %s", code, stderr)
	}
	if strings.TrimSpace(stdout) != "uosmo" {
		t.Fatalf("config get = %q, want uosmo", stdout)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigShow([]string{"--config", configPath, "chain:osmosis"})
	})
	if code != 0 {
		t.Fatalf("runConfigShow() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "rpc_url: http://127.0.0.1:26657") {
		t.Fatalf("config show missing rpc_url: %s", stdout)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigGet([]string{"--config", configPath, "chain:missing.denom"})
	})
	if code != 1 || !strings.Contains(stderr, "not found") {
		t.Fatalf("runConfigGet() for unknown chain code = %d, stderr: %s", code, stderr)
	}
}

func TestRunOpEnqueueThenInspect(t *testing.T) {
	_, configPath := writeConfig(t, "")

	seq := `{"kind":"seq","children":[{"kind":"leaf","payload":"packet-1"},{"kind":"leaf","payload":"packet-2"}]}`
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runOpEnqueue([]string{"--config", configPath, "--json", seq})
	})
	if code != 0 {
		t.Fatalf("runOpEnqueue() code = %d, stderr: %s", code, stderr)
	}

	var view inspect.Node
	if err := json.Unmarshal([]byte(stdout), &view); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, stdout)
	}
	if view.ID == "" || view.State != "fresh" || view.Revision != 1 {
		t.Fatalf("unexpected enqueued entry: %+v", view)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runOpInspect([]string{string(view.ID), "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runOpInspect() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, string(view.ID)) || !strings.Contains(stdout, "seq[2]") {
		t.Fatalf("inspect output missing entry: %s", stdout)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runOpInspect([]string{string(view.ID), "--json", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runOpInspect(--json) code = %d, stderr: %s", code, stderr)
	}
	var report inspect.Report
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("invalid JSON report: %v\n%s", err, stdout)
	}
	if report.Root == nil || report.Root.ID != view.ID || report.Nodes != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestRunOpEnqueueLeafShorthand(t *testing.T) {
	_, configPath := writeConfig(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runOpEnqueue([]string{"--leaf", "packet-7", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runOpEnqueue() code = %d, stderr: %s", code, stderr)
	}
	if !strings.HasPrefix(stdout, "Enqueued ") {
		t.Fatalf("unexpected output: %s", stdout)
	}
}

func TestRunOpEnqueueRejectsInvalidInput(t *testing.T) {
	_, configPath := writeConfig(t, "")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no source", []string{"--config", configPath}, "provide exactly one"},
		{"two sources", []string{"--config", configPath, "--leaf", "x", `{"kind":"leaf","payload":"y"}`}, "provide exactly one"},
		{"unknown field", []string{"--config", configPath, `{"kind":"leaf","payload":"x","bogus":1}`}, "invalid operation JSON"},
		{"invalid tree", []string{"--config", configPath, `{"kind":"seq"}`}, "invalid operation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := captureOutputWithExitCode(t, func() int {
				return runOpEnqueue(tt.args)
			})
			if code != 1 {
				t.Fatalf("runOpEnqueue() code = %d, want 1", code)
			}
			if !strings.Contains(stderr, tt.want) {
				t.Fatalf("stderr = %q, want it to contain %q", stderr, tt.want)
			}
		})
	}
}

func TestRunOpInspectUnknownID(t *testing.T) {
	_, configPath := writeConfig(t, "")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runOpInspect([]string{"does-not-exist", "--config", configPath})
	})
	if code != 1 || !strings.Contains(stderr, "not found") {
		t.Fatalf("runOpInspect() code = %d, stderr: %s", code, stderr)
	}
}

func TestRunOpCommandsRejectMemoryDriver(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("state:\n  driver: memory\n"), 0644); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runOpEnqueue([]string{"--config", configPath, "--leaf", "packet-1"})
	})
	if code != 1 || !strings.Contains(stderr, "memory state driver") {
		t.Fatalf("runOpEnqueue() code = %d, stderr: %s", code, stderr)
	}
}

func TestRunPluginListShowsEnabledState(t *testing.T) {
	dir, configPath := writeConfig(t, "plugins:\n  packet-claimer:\n    enabled: true\n")
	writePlugin(t, filepath.Join(dir, "plugins"), "packet-claimer")
	writePlugin(t, filepath.Join(dir, "plugins"), "fee-batcher")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runPluginList([]string{"--config", configPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("runPluginList() code = %d, stderr: %s", code, stderr)
	}

	var listings []pluginListing
	if err := json.Unmarshal([]byte(stdout), &listings); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, stdout)
	}
	enabled := make(map[string]bool)
	for _, l := range listings {
		enabled[l.Name] = l.Enabled
		if !l.Filter || !l.Process {
			t.Errorf("plugin %s capabilities = filter:%t process:%t", l.Name, l.Filter, l.Process)
		}
	}
	if len(enabled) != 2 || !enabled["packet-claimer"] || enabled["fee-batcher"] {
		t.Fatalf("unexpected listings: %+v", listings)
	}
}

func TestRunConfigNounActionHelp(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"check", "--help"})
	})
	if code != 0 {
		t.Fatalf("runConfigNoun() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Usage: relayd config check") {
		t.Fatalf("stdout missing action help usage: %s", stdout)
	}
}

func TestRunNounUnknownAction(t *testing.T) {
	for name, run := range map[string]func([]string) int{
		"system": runSystemNoun,
		"config": runConfigNoun,
		"op":     runOpNoun,
		"plugin": runPluginNoun,
	} {
		t.Run(name, func(t *testing.T) {
			code, _, stderr := captureOutputWithExitCode(t, func() int {
				return run([]string{"bogus"})
			})
			if code != 1 || !strings.Contains(stderr, "Unknown "+name+" action: bogus") {
				t.Fatalf("code = %d, stderr: %s", code, stderr)
			}
		})
	}
}

func TestSplitPositional(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantPos  string
		wantRest []string
	}{
		{"positional first", []string{"abc", "--json"}, "abc", []string{"--json"}},
		{"flag value is not positional", []string{"--config", "/etc/relayd", "abc"}, "abc", []string{"--config", "/etc/relayd"}},
		{"equals form", []string{"--config=/x", "abc"}, "abc", []string{"--config=/x"}},
		{"none", []string{"--json"}, "", []string{"--json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, rest := splitPositional(tt.args, "config")
			if pos != tt.wantPos {
				t.Fatalf("positional = %q, want %q", pos, tt.wantPos)
			}
			if strings.Join(rest, " ") != strings.Join(tt.wantRest, " ") {
				t.Fatalf("rest = %v, want %v", rest, tt.wantRest)
			}
		})
	}
}
