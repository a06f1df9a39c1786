// Package prime runs the issue tracker's priming command and captures the
// text it prints for injection into agent sessions.
package prime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrEmptyCommand is returned by NewRunner when no command is configured.
var ErrEmptyCommand = errors.New("prime command is required")

// Config configures a Runner.
type Config struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Runner invokes the priming command as a subprocess.
type Runner struct {
	command string
	args    []string
	dir     string
	env     []string
	timeout time.Duration
	logger  zerolog.Logger
}

// DefaultConfig runs `st prime` with a 30 second timeout.
func DefaultConfig() Config {
	return Config{
		Command: "st",
		Args:    []string{"prime"},
		Timeout: 30 * time.Second,
	}
}

// NewRunner creates a priming runner.
func NewRunner(cfg Config) (*Runner, error) {
	command := strings.TrimSpace(cfg.Command)
	if command == "" {
		return nil, ErrEmptyCommand
	}

	return &Runner{
		command: command,
		args:    append([]string(nil), cfg.Args...),
		dir:     cfg.Dir,
		env:     buildEnvironment(cfg.Env),
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With().Str("component", "prime").Logger(),
	}, nil
}

// Prime runs the command and returns its standard output. Standard error is
// only logged. A non-zero exit is reported as an error; callers treat any
// error the same as empty output.
func (r *Runner) Prime(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	runCtx := ctx
	cancel := func() {}
	if r.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.command, r.args...)
	cmd.Dir = r.dir
	cmd.Env = r.env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	errText := strings.TrimSpace(stderr.String())

	if errText != "" {
		r.logger.Debug().
			Str("command", r.command).
			Str("stderr", errText).
			Msg("Prime command wrote to stderr")
	}
	if err != nil {
		if runCtx.Err() != nil {
			err = fmt.Errorf("%w (%v)", err, runCtx.Err())
		}
		if errText != "" {
			return "", fmt.Errorf("%s failed: %w: %s", r.command, err, errText)
		}
		return "", fmt.Errorf("%s failed: %w", r.command, err)
	}

	r.logger.Debug().
		Str("command", r.command).
		Int("bytes", stdout.Len()).
		Dur("duration", time.Since(start)).
		Msg("Prime command completed")

	return stdout.String(), nil
}

func buildEnvironment(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}
	env := append([]string{}, os.Environ()...)
	for key, value := range extra {
		env = append(env, key+"="+value)
	}
	return env
}
