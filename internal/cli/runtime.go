package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/sterna-opencode/internal/config"
	"github.com/harun/sterna-opencode/internal/logger"
	"github.com/harun/sterna-opencode/internal/tracing"
	"github.com/harun/sterna-opencode/pkg/host"
	"github.com/harun/sterna-opencode/pkg/hostconfig"
	"github.com/harun/sterna-opencode/pkg/injector"
	"github.com/harun/sterna-opencode/pkg/prime"
	"github.com/harun/sterna-opencode/pkg/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const pidFileName = "sterna-opencode.pid"

// runtime bundles what every command needs after startup.
type runtime struct {
	cfg    *config.Config
	log    *logger.Logger
	logger zerolog.Logger
}

func loadRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if flag := cmd.Flags().Lookup("log-level"); flag != nil && flag.Changed {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		Output:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	zl := log.GetZerolog()
	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(tracing.Config{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: version,
			SampleRatio:    cfg.Tracing.SampleRatio,
		}); err != nil {
			zl.Warn().Err(err).Msg("Tracing disabled")
		}
	}

	return &runtime{cfg: cfg, log: log, logger: zl}, nil
}

func (r *runtime) close(ctx context.Context) {
	if r.cfg.Tracing.Enabled {
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			r.logger.Debug().Err(err).Msg("Tracing shutdown failed")
		}
	}
	_ = r.log.Close()
}

func (r *runtime) hostClient() (*host.Client, error) {
	return host.NewClient(host.ClientConfig{
		BaseURL:   r.cfg.Host.BaseURL,
		Username:  r.cfg.Host.Username,
		Password:  r.cfg.Host.Password,
		Directory: r.cfg.Host.Directory,
		Timeout:   r.cfg.HostTimeout(),
		Logger:    r.logger,
	})
}

func (r *runtime) sessionStore(dir string) (*session.Store, error) {
	if dir == "" {
		dir = filepath.Join(r.cfg.DataDir, "sessions")
	}
	return session.New(session.Config{Dir: dir, Logger: r.logger})
}

func (r *runtime) primeRunner() (*prime.Runner, error) {
	return prime.NewRunner(prime.Config{
		Command: r.cfg.Prime.Command,
		Args:    r.cfg.Prime.Args,
		Dir:     r.cfg.Prime.Dir,
		Env:     r.cfg.Prime.Env,
		Timeout: r.cfg.PrimeTimeout(),
		Logger:  r.logger,
	})
}

func (r *runtime) injector(history injector.HistoryReader, sender injector.MessageSender) (*injector.Injector, error) {
	runner, err := r.primeRunner()
	if err != nil {
		return nil, err
	}
	return injector.New(injector.Config{
		Prime:        runner,
		History:      history,
		Sender:       sender,
		ScanLimit:    r.cfg.Injection.ScanLimit,
		ContextLimit: r.cfg.Injection.ContextLimit,
		Logger:       r.logger,
	})
}

func (r *runtime) hostConfigOptions() hostconfig.Options {
	return hostconfig.Options{
		Agent: hostconfig.AgentProfile{
			Name:        r.cfg.Agent.Name,
			Description: r.cfg.Agent.Description,
			Prompt:      r.cfg.Agent.Prompt,
		},
		BashPattern: r.cfg.Permission.BashPattern,
		BashAction:  r.cfg.Permission.BashAction,
	}
}

func (r *runtime) hostConfigPath() string {
	if r.cfg.HostConfigPath != "" {
		return r.cfg.HostConfigPath
	}
	return "opencode.json"
}

func (r *runtime) agentDir() string {
	if r.cfg.AgentDir != "" {
		return r.cfg.AgentDir
	}
	return filepath.Join(".opencode", "agent")
}

func (r *runtime) pidFile() string {
	return filepath.Join(r.cfg.DataDir, pidFileName)
}

// parseModel parses "provider/model". The model part may itself contain
// slashes.
func parseModel(raw string) (*host.ModelRef, error) {
	if raw == "" {
		return nil, nil
	}
	provider, model, ok := strings.Cut(raw, "/")
	if !ok || provider == "" || model == "" {
		return nil, fmt.Errorf("invalid model %q (expected provider/model)", raw)
	}
	return &host.ModelRef{ProviderID: provider, ModelID: model}, nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}
