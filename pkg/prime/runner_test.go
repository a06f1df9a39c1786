package prime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shellRunner(t *testing.T, script string, mutate func(*Config)) *Runner {
	t.Helper()
	cfg := Config{
		Command: "/bin/sh",
		Args:    []string{"-c", script},
		Logger:  zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	runner, err := NewRunner(cfg)
	require.NoError(t, err)
	return runner
}

func TestNewRunnerRequiresCommand(t *testing.T) {
	_, err := NewRunner(Config{Command: "  "})
	assert.True(t, errors.Is(err, ErrEmptyCommand))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "st", cfg.Command)
	assert.Equal(t, []string{"prime"}, cfg.Args)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestRunnerPrimeCapturesStdout(t *testing.T) {
	runner := shellRunner(t, "echo 'Plan: fix bug'; echo '## Ready Issues' >&2", nil)

	output, err := runner.Prime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Plan: fix bug\n", output)
}

func TestRunnerPrimeEmptyOutput(t *testing.T) {
	runner := shellRunner(t, "printf '  \\n'", nil)

	output, err := runner.Prime(context.Background())
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(output))
}

func TestRunnerPrimeNonZeroExit(t *testing.T) {
	runner := shellRunner(t, "echo partial; echo 'not a sterna repo' >&2; exit 3", nil)

	output, err := runner.Prime(context.Background())
	require.Error(t, err)
	assert.Empty(t, output)
	assert.Contains(t, err.Error(), "not a sterna repo")
}

func TestRunnerPrimeMissingBinary(t *testing.T) {
	runner, err := NewRunner(Config{Command: "st-definitely-not-installed", Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = runner.Prime(context.Background())
	require.Error(t, err)
}

func TestRunnerPrimeRespectsTimeout(t *testing.T) {
	runner := shellRunner(t, "sleep 1", func(cfg *Config) {
		cfg.Timeout = 30 * time.Millisecond
	})

	_, err := runner.Prime(context.Background())
	require.Error(t, err)
	assert.True(t,
		strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "signal: killed"),
		"expected timeout-related error, got: %v",
		err,
	)
}

func TestRunnerPrimeUsesDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prime.md"), []byte("from file"), 0644))

	runner := shellRunner(t, "cat prime.md; echo \" $STERNA_ROLE\"", func(cfg *Config) {
		cfg.Dir = dir
		cfg.Env = map[string]string{"STERNA_ROLE": "crew"}
	})

	output, err := runner.Prime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from file crew\n", output)
}
