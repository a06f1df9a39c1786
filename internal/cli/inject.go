package cli

import (
	"fmt"
	"io"

	"github.com/harun/sterna-opencode/internal/tracing"
	"github.com/harun/sterna-opencode/pkg/injector"
	"github.com/spf13/cobra"
)

var (
	injectLocal       bool
	injectSessionsDir string
	injectCompacted   bool
	injectForce       bool
	injectModel       string
	injectAgent       string
)

var injectCmd = &cobra.Command{
	Use:   "inject <session-id>",
	Short: "Inject context into one session",
	Long: `Run the injection decision for a single session, as if its first message
had just arrived.

  --compacted  handle the session as freshly compacted
  --force      skip the duplicate checks and inject unconditionally`,
	Args: cobra.ExactArgs(1),
	RunE: runInject,
}

func init() {
	injectCmd.Flags().BoolVar(&injectLocal, "local", false, "use the local session store instead of the OpenCode server")
	injectCmd.Flags().StringVar(&injectSessionsDir, "sessions-dir", "", "local session store directory (default is <data_dir>/sessions)")
	injectCmd.Flags().BoolVar(&injectCompacted, "compacted", false, "treat the session as compacted")
	injectCmd.Flags().BoolVar(&injectForce, "force", false, "inject without checking history")
	injectCmd.Flags().StringVar(&injectModel, "model", "", "model to attribute the message to (provider/model)")
	injectCmd.Flags().StringVar(&injectAgent, "agent", "", "agent to attribute the message to")
	injectCmd.MarkFlagsMutuallyExclusive("compacted", "force")
	rootCmd.AddCommand(injectCmd)
}

func runInject(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	model, err := parseModel(injectModel)
	if err != nil {
		return err
	}

	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close(cmd.Context())

	var (
		history injector.HistoryReader
		sender  injector.MessageSender
	)
	if injectLocal {
		store, err := rt.sessionStore(injectSessionsDir)
		if err != nil {
			return err
		}
		history, sender = store, store
	} else {
		client, err := rt.hostClient()
		if err != nil {
			return err
		}
		history, sender = client, client
	}

	inj, err := rt.injector(history, sender)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var result injector.Result
	switch {
	case injectCompacted:
		result = inj.OnCompacted(ctx, injector.CompactedEvent{SessionID: sessionID})
	case injectForce:
		selection := injector.Selection{Model: model, Agent: injectAgent}
		ctx = tracing.NewEventContext(ctx, sessionID, string(injector.TriggerManual))
		outcome := inj.Inject(ctx, sessionID, selection)
		result = injector.Result{
			SessionID: sessionID,
			Trigger:   injector.TriggerManual,
			Decision:  injector.DecisionInjected,
			Selection: selection,
			Outcome:   &outcome,
		}
	default:
		result = inj.OnMessage(ctx, injector.MessageEvent{SessionID: sessionID, Model: model, Agent: injectAgent})
	}

	printResult(cmd.OutOrStdout(), result)
	if result.Outcome != nil && result.Outcome.Err != nil {
		return result.Outcome.Err
	}
	return nil
}

func printResult(w io.Writer, result injector.Result) {
	fmt.Fprintf(w, "Session:  %s\n", result.SessionID)
	fmt.Fprintf(w, "Trigger:  %s\n", result.Trigger)
	fmt.Fprintf(w, "Decision: %s\n", result.Decision)
	if result.Outcome == nil {
		return
	}
	fmt.Fprintf(w, "Status:   %s\n", result.Outcome.Status)
	if !result.Selection.IsZero() {
		fmt.Fprintf(w, "Model:    %s\n", result.Selection.Model.String())
		fmt.Fprintf(w, "Agent:    %s\n", result.Selection.Agent)
	}
}
