// Package guidance holds the static text injected into sessions and handed to
// the task agent profile.
package guidance

import "fmt"

const (
	// ContextTag names the block wrapping the priming payload. Its opening
	// form doubles as the marker used to detect prior injection.
	ContextTag = "sterna-context"

	// TaskAgentName is the subagent profile registered with the host.
	TaskAgentName = "sterna-task-agent"

	// TaskAgentDescription is shown by the host when listing agents.
	TaskAgentDescription = "Sterna task completion agent"

	// CLIPermissionPattern pre-authorizes every st subcommand.
	CLIPermissionPattern = "st *"
)

// Marker is the substring searched for in message history.
const Marker = "<" + ContextTag + ">"

// CLIUsage documents the st commands available to agents.
const CLIUsage = "## CLI Usage\n" +
	"Use the `st` CLI via bash for Sterna operations:\n" +
	"- `st ready --json` - List ready tasks (open, unclaimed, unblocked)\n" +
	"- `st get <id> --json` - Show issue details\n" +
	"- `st create \"title\" -d \"desc\" -t bug|feature|task -p 0-4` - Create issue\n" +
	"- `st claim <id> --context \"branch\"` - Claim issue\n" +
	"- `st close <id> --reason \"message\"` - Close issue\n" +
	"- `st release <id> --reason \"message\"` - Release claim\n" +
	"- `st reopen <id> --reason \"message\"` - Reopen issue\n" +
	"- `st list --status open --json` - List issues\n" +
	"- `st dep add <id> --needs <other>` - Add dependency\n" +
	"- `st dep remove <id> --needs <other>` - Remove dependency\n" +
	"- `st sync` - Pull then push\n" +
	"\n" +
	"Always use `--json` flag for structured output."

// Session is appended after the context block in every injected message.
const Session = "<sterna-guidance>\n" +
	CLIUsage + "\n" +
	"\n" +
	"## Agent Delegation\n" +
	"For multi-command beads work, use the `task` tool with `subagent_type: \"" + TaskAgentName + "\"`:\n" +
	"- Status overviews (\"what's next\", \"what's blocked\")\n" +
	"- Finding and completing ready work\n" +
	"- Working through multiple issues\n" +
	"\n" +
	"Use CLI directly for single atomic operations (create one issue, close one issue).\n" +
	"</sterna-guidance>"

// TaskAgentPrompt is the system prompt of the subagent profile.
const TaskAgentPrompt = "You are a Sterna task completion agent.\n" +
	"\n" +
	CLIUsage + "\n" +
	"\n" +
	"## Your Purpose\n" +
	"Handle status queries AND autonomous task completion.\n" +
	"\n" +
	"For status requests: Run `st` commands, parse JSON, return concise human-readable summary.\n" +
	"For task completion: Find ready work, claim it, execute it, close it.\n" +
	"\n" +
	"Never dump raw JSON - summarize it."

// WrapContext wraps an already trimmed priming payload in the context block.
func WrapContext(payload string) string {
	return fmt.Sprintf("<%s>\n%s\n</%s>", ContextTag, payload, ContextTag)
}
