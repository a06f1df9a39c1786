package cli

import (
	"fmt"

	"github.com/harun/sterna-opencode/internal/config"
	"github.com/harun/sterna-opencode/pkg/hostconfig"
	"github.com/spf13/cobra"
)

var (
	configureFile     string
	configureAgentDir string
	configureAgent    bool
	configureWatch    bool
	configureInit     bool
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Register the sterna agent and permission with OpenCode",
	Long: `Amend the OpenCode config file so the sterna task agent is available and
"st" commands run without approval prompts. Existing settings are kept.

  --agent-file  also write the agent as a markdown file
  --watch       keep watching the file and re-apply after it changes
  --init        write the default plugin config first`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureFile, "file", "", "OpenCode config file (default is ./opencode.json)")
	configureCmd.Flags().StringVar(&configureAgentDir, "agent-dir", "", "agent markdown directory (default is .opencode/agent)")
	configureCmd.Flags().BoolVar(&configureAgent, "agent-file", false, "write the agent markdown file")
	configureCmd.Flags().BoolVar(&configureWatch, "watch", false, "watch the config file and re-apply on change")
	configureCmd.Flags().BoolVar(&configureInit, "init", false, "write the default plugin config")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if configureInit {
		loader := config.NewLoader(cfgFile)
		if err := loader.Save(config.DefaultConfig()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Plugin config written to %s\n", loader.GetConfigPath())
	}

	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close(cmd.Context())

	path := configureFile
	if path == "" {
		path = rt.hostConfigPath()
	}
	opts := rt.hostConfigOptions()

	changed, err := hostconfig.ApplyFile(path, opts, rt.logger)
	if err != nil {
		return err
	}
	if changed {
		fmt.Fprintf(out, "Updated %s\n", path)
	} else {
		fmt.Fprintf(out, "%s already configured\n", path)
	}

	if configureAgent || configureAgentDir != "" {
		dir := configureAgentDir
		if dir == "" {
			dir = rt.agentDir()
		}
		agentPath, written, err := hostconfig.WriteAgentFile(dir, opts)
		if err != nil {
			return err
		}
		if written {
			fmt.Fprintf(out, "Wrote %s\n", agentPath)
		} else {
			fmt.Fprintf(out, "%s up to date\n", agentPath)
		}
	}

	if !configureWatch {
		return nil
	}

	watcher, err := hostconfig.NewWatcher(hostconfig.WatcherConfig{
		Path:    path,
		Options: opts,
		Logger:  rt.logger,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", path)
	ctx, stop := notifyContext(cmd.Context())
	defer stop()
	return watcher.Run(ctx)
}
