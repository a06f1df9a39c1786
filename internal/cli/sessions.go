package cli

import (
	"fmt"
	"strings"

	"github.com/harun/sterna-opencode/pkg/host"
	"github.com/harun/sterna-opencode/pkg/session"
	"github.com/spf13/cobra"
)

var (
	sessionsDir     string
	sessionsRole    string
	sessionsModel   string
	sessionsAgent   string
	sessionsSummary string
	sessionsKeep    int
	sessionsLimit   int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage the local session store",
	Long: `Inspect and edit the on-disk session store used by "serve --local" and
"inject --local". A running "serve --local" reacts to "append" and "compact"
from another terminal.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessionStore(cmd)
		if err != nil {
			return err
		}
		ids, err := store.ListSessions()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, "No sessions")
			return nil
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	},
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Print a new session ID",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), session.NewSessionID())
	},
}

var sessionsAppendCmd = &cobra.Command{
	Use:   "append <session-id> <text>",
	Short: "Append a message to a session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, err := parseModel(sessionsModel)
		if err != nil {
			return err
		}
		role := host.Role(sessionsRole)
		switch role {
		case host.RoleUser, host.RoleAssistant, host.RoleSystem:
		default:
			return fmt.Errorf("invalid role %q", sessionsRole)
		}

		store, err := openSessionStore(cmd)
		if err != nil {
			return err
		}
		msg, err := store.Append(cmd.Context(), host.Message{
			SessionID: args[0],
			Role:      role,
			Model:     model,
			Agent:     sessionsAgent,
			Parts:     []host.Part{host.TextPart(strings.Join(args[1:], " "), false)},
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg.ID)
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessionStore(cmd)
		if err != nil {
			return err
		}
		messages, err := store.Messages(cmd.Context(), args[0], sessionsLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, msg := range messages {
			header := string(msg.Role)
			if msg.Model != nil {
				header += " " + msg.Model.String()
			}
			if msg.Agent != "" {
				header += " @" + msg.Agent
			}
			fmt.Fprintf(out, "[%s] %s\n", msg.ID, header)
			for _, part := range msg.Parts {
				if part.Text != "" {
					fmt.Fprintln(out, part.Text)
				}
			}
		}
		return nil
	},
}

var sessionsCompactCmd = &cobra.Command{
	Use:   "compact <session-id>",
	Short: "Compact a session's history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessionStore(cmd)
		if err != nil {
			return err
		}
		if err := store.Compact(cmd.Context(), args[0], sessionsSummary, sessionsKeep); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Compacted %s\n", args[0])
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessionStore(cmd)
		if err != nil {
			return err
		}
		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	sessionsCmd.PersistentFlags().StringVar(&sessionsDir, "sessions-dir", "", "local session store directory (default is <data_dir>/sessions)")

	sessionsAppendCmd.Flags().StringVar(&sessionsRole, "role", string(host.RoleUser), "message role (user, assistant, system)")
	sessionsAppendCmd.Flags().StringVar(&sessionsModel, "model", "", "model selector (provider/model)")
	sessionsAppendCmd.Flags().StringVar(&sessionsAgent, "agent", "", "agent selector")

	sessionsShowCmd.Flags().IntVar(&sessionsLimit, "limit", 0, "show only the last N messages")

	sessionsCompactCmd.Flags().StringVar(&sessionsSummary, "summary", "", "summary message text")
	sessionsCompactCmd.Flags().IntVar(&sessionsKeep, "keep", 0, "number of recent messages to keep")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsNewCmd, sessionsAppendCmd, sessionsShowCmd, sessionsCompactCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openSessionStore(cmd *cobra.Command) (*session.Store, error) {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return nil, err
	}
	return rt.sessionStore(sessionsDir)
}
