package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/harun/sterna-opencode/internal/observability"
	"github.com/harun/sterna-opencode/pkg/hostconfig"
	"github.com/harun/sterna-opencode/pkg/injector"
	"github.com/harun/sterna-opencode/pkg/plugin"
	"github.com/spf13/cobra"
)

var (
	serveLocal       bool
	serveSessionsDir string
	serveMetricsAddr string
	serveWatchConfig bool
	serveSkipConfig  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for host events and inject context",
	Long: `Subscribe to the OpenCode event stream and inject Sterna context into
sessions on their first message and after every compaction.

The host config file gets the task agent and the st permission at startup.
Use --skip-host-config to leave it alone, or --watch-config to keep
re-applying it when the file changes.

With --local the events come from the on-disk session store instead of a
running OpenCode server.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveLocal, "local", false, "use the local session store instead of the OpenCode server")
	serveCmd.Flags().StringVar(&serveSessionsDir, "sessions-dir", "", "local session store directory (default is <data_dir>/sessions)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	serveCmd.Flags().BoolVar(&serveWatchConfig, "watch-config", false, "re-apply the host config amendment when the file changes")
	serveCmd.Flags().BoolVar(&serveSkipConfig, "skip-host-config", false, "do not amend the host config file at startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	ctx, stop := notifyContext(cmd.Context())
	defer stop()

	var (
		source  plugin.EventSource
		history injector.HistoryReader
		sender  injector.MessageSender
	)
	if serveLocal {
		store, err := rt.sessionStore(serveSessionsDir)
		if err != nil {
			return err
		}
		source, history, sender = store, store, store
		rt.logger.Info().Str("dir", store.Dir()).Msg("Using local session store")
	} else {
		client, err := rt.hostClient()
		if err != nil {
			return err
		}
		source, history, sender = client, client, client
		rt.logger.Info().Str("base_url", rt.cfg.Host.BaseURL).Msg("Connecting to OpenCode")
	}

	inj, err := rt.injector(history, sender)
	if err != nil {
		return err
	}
	p, err := plugin.New(plugin.Config{
		Injector:   inj,
		HostConfig: rt.hostConfigOptions(),
		Logger:     rt.logger,
	})
	if err != nil {
		return err
	}

	if err := ensureDir(rt.cfg.DataDir); err != nil {
		return err
	}
	pidFile := rt.pidFile()
	if pid, running := readPID(pidFile); running {
		return fmt.Errorf("already running (PID %d)", pid)
	}
	if err := writePID(pidFile); err != nil {
		return err
	}
	defer os.Remove(pidFile)

	addr := serveMetricsAddr
	if addr == "" && rt.cfg.Metrics.Enabled {
		addr = rt.cfg.Metrics.Addr
	}
	if addr != "" {
		srv := startMetricsServer(addr, rt)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	switch {
	case serveSkipConfig:
	case serveWatchConfig:
		watcher, err := hostconfig.NewWatcher(hostconfig.WatcherConfig{
			Path:    rt.hostConfigPath(),
			Options: rt.hostConfigOptions(),
			Logger:  rt.logger,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				rt.logger.Warn().Err(err).Msg("Host config watcher stopped")
			}
		}()
	default:
		if p.ApplyHostConfig(rt.hostConfigPath()) {
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", rt.hostConfigPath())
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "sterna-opencode %s serving (PID %d)\n", version, os.Getpid())
	rt.logger.Info().Int("pid", os.Getpid()).Msg("Serving")

	runErr := p.Run(ctx, source)

	rt.logger.Info().Msg("Draining injection tasks")
	p.Drain()
	rt.logger.Info().Msg("Stopped")
	return runErr
}

func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func startMetricsServer(addr string, rt *runtime) *http.Server {
	observability.EnsureRegistered()
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	rt.logger.Info().Str("addr", addr).Msg("Metrics server listening")
	return srv
}

func writePID(path string) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// readPID returns the PID recorded in path and whether that process is
// still alive.
func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, isRunning(pid)
}

func isRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds, so we need to send signal 0
	return process.Signal(syscall.Signal(0)) == nil
}
