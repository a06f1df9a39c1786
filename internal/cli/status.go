package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/sterna-opencode/internal/config"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show serve status",
	Long:  `Show whether a "sterna-opencode serve" process is running.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	pidFile, err := pidFilePath()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pid, running := readPID(pidFile)
	if !running {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)
	// PID file modification time approximates the start time
	if fileInfo, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(fileInfo.ModTime())))
	}
	return nil
}

func pidFilePath() (string, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg.DataDir, pidFileName), nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
