package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harun/sterna-opencode/pkg/guidance"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag to its default so sticky values from an
// earlier Execute do not leak into the next one.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, child := range cmd.Commands() {
		resetFlags(child)
	}
}

// writeTestConfig writes a plugin config that primes with a shell echo and
// keeps all state under a temp dir.
func writeTestConfig(t *testing.T, primeScript string) (configPath, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")

	cfg := map[string]any{
		"prime": map[string]any{
			"command":    "/bin/sh",
			"args":       []string{"-c", primeScript},
			"timeout_ms": 5000,
		},
		"logging":          map[string]any{"level": "error"},
		"data_dir":         dataDir,
		"host_config_path": filepath.Join(dir, "opencode.json"),
		"agent_dir":        filepath.Join(dir, "agent"),
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	configPath = filepath.Join(dir, "plugin.json")
	require.NoError(t, os.WriteFile(configPath, data, 0644))
	return configPath, dataDir
}

func TestLocalInjectFlow(t *testing.T) {
	configPath, _ := writeTestConfig(t, "echo 'Plan: fix bug'")
	run := func(args ...string) string {
		t.Helper()
		output, err := execute(t, append([]string{"--config", configPath}, args...)...)
		require.NoError(t, err, strings.Join(args, " "))
		return output
	}

	run("sessions", "append", "ses_demo", "hello", "--model", "anthropic/claude-sonnet-4", "--agent", "build")
	assert.Equal(t, "ses_demo\n", run("sessions", "list"))

	output := run("inject", "ses_demo", "--local")
	assert.Contains(t, output, "Decision: injected")
	assert.Contains(t, output, "Status:   delivered")

	shown := run("sessions", "show", "ses_demo")
	assert.Contains(t, shown, guidance.Marker)
	assert.Contains(t, shown, "Plan: fix bug")

	// A new process finds the marker in history.
	output = run("inject", "ses_demo", "--local")
	assert.Contains(t, output, "Decision: marker_found")
	assert.NotContains(t, output, "Status:")

	run("sessions", "compact", "ses_demo", "--keep", "2")
	output = run("inject", "ses_demo", "--local", "--compacted")
	assert.Contains(t, output, "Decision: reinjected")
	assert.Contains(t, output, "Status:   delivered")
	assert.Contains(t, output, "Model:    anthropic/claude-sonnet-4")
	assert.Contains(t, output, "Agent:    build")

	output = run("inject", "ses_demo", "--local", "--force", "--agent", "plan")
	assert.Contains(t, output, "Trigger:  manual")
	assert.Contains(t, output, "Status:   delivered")

	shown = run("sessions", "show", "ses_demo")
	assert.Equal(t, 3, strings.Count(shown, guidance.Marker))

	run("sessions", "delete", "ses_demo")
	assert.Equal(t, "No sessions\n", run("sessions", "list"))
}

func TestInjectReportsPrimeFailure(t *testing.T) {
	configPath, _ := writeTestConfig(t, "echo 'not a sterna repo' >&2; exit 1")

	output, err := execute(t, "--config", configPath, "inject", "ses_fail", "--local")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a sterna repo")
	assert.Contains(t, output, "Status:   prime_failed")
}

func TestInjectRejectsConflictingFlags(t *testing.T) {
	configPath, _ := writeTestConfig(t, "echo ok")

	_, err := execute(t, "--config", configPath, "inject", "ses_x", "--local", "--compacted", "--force")
	require.Error(t, err)
}

func TestInjectRejectsBadModel(t *testing.T) {
	configPath, _ := writeTestConfig(t, "echo ok")

	_, err := execute(t, "--config", configPath, "inject", "ses_x", "--local", "--force", "--model", "nomodel")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider/model")
}

func TestSessionsAppendRejectsRole(t *testing.T) {
	configPath, _ := writeTestConfig(t, "echo ok")

	_, err := execute(t, "--config", configPath, "sessions", "append", "ses_x", "hi", "--role", "robot")
	require.Error(t, err)
}

func TestSessionsNew(t *testing.T) {
	output, err := execute(t, "sessions", "new")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(output, "ses_"))
}

func TestConfigureCommand(t *testing.T) {
	configPath, _ := writeTestConfig(t, "echo ok")
	hostConfig := filepath.Join(filepath.Dir(configPath), "opencode.json")
	require.NoError(t, os.WriteFile(hostConfig, []byte(`{"theme": "dark", "permission": {"bash": "ask"}}`), 0644))

	output, err := execute(t, "--config", configPath, "configure", "--agent-file")
	require.NoError(t, err)
	assert.Contains(t, output, "Updated "+hostConfig)
	assert.Contains(t, output, "Wrote ")

	data, err := os.ReadFile(hostConfig)
	require.NoError(t, err)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, "dark", cfg["theme"])

	permission, ok := cfg["permission"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"*": "ask", guidance.CLIPermissionPattern: "allow"}, permission["bash"])

	agents, ok := cfg["agent"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, agents, guidance.TaskAgentName)

	agentFile := filepath.Join(filepath.Dir(configPath), "agent", guidance.TaskAgentName+".md")
	assert.FileExists(t, agentFile)

	output, err = execute(t, "--config", configPath, "configure", "--agent-file")
	require.NoError(t, err)
	assert.Contains(t, output, "already configured")
	assert.Contains(t, output, "up to date")
}

func TestConfigureInit(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "plugin.json")
	hostConfig := filepath.Join(dir, "opencode.json")

	output, err := execute(t, "--config", configPath, "configure", "--init", "--file", hostConfig)
	require.NoError(t, err)
	assert.Contains(t, output, "Plugin config written to "+configPath)
	assert.FileExists(t, configPath)
	assert.FileExists(t, hostConfig)
}

func TestStatusAndStop(t *testing.T) {
	configPath, dataDir := writeTestConfig(t, "echo ok")

	output, err := execute(t, "--config", configPath, "status")
	require.NoError(t, err)
	assert.Equal(t, "Status: stopped\n", output)

	_, err = execute(t, "--config", configPath, "stop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")

	require.NoError(t, ensureDir(dataDir))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, pidFileName), []byte(fmt.Sprint(os.Getpid())), 0644))

	output, err = execute(t, "--config", configPath, "status")
	require.NoError(t, err)
	assert.Contains(t, output, "Status: running")
	assert.Contains(t, output, fmt.Sprintf("PID: %d", os.Getpid()))
	assert.Contains(t, output, "Uptime:")
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, pidFileName)

	_, running := readPID(path)
	assert.False(t, running)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))
	_, running = readPID(path)
	assert.False(t, running)

	require.NoError(t, writePID(path))
	pid, running := readPID(path)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"rounds", 1500 * time.Millisecond, "2s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
