package hostconfig

import "github.com/harun/sterna-opencode/pkg/guidance"

const (
	ModeSubagent = "subagent"
	ActionAllow  = "allow"

	// wildcardKey holds the default rule of a permission table.
	wildcardKey = "*"
)

// AgentProfile is an agent registered with the host.
type AgentProfile struct {
	Name        string `yaml:"-"`
	Description string `yaml:"description"`
	Mode        string `yaml:"mode"`
	Prompt      string `yaml:"-"`
}

// Options selects what the hook amends.
type Options struct {
	Agent AgentProfile

	// BashPattern is added to permission.bash with BashAction.
	BashPattern string
	BashAction  string
}

// DefaultOptions registers the sterna task agent and allows "st *".
func DefaultOptions() Options {
	return Options{
		Agent: AgentProfile{
			Name:        guidance.TaskAgentName,
			Description: guidance.TaskAgentDescription,
			Mode:        ModeSubagent,
			Prompt:      guidance.TaskAgentPrompt,
		},
		BashPattern: guidance.CLIPermissionPattern,
		BashAction:  ActionAllow,
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.Agent.Name == "" {
		o.Agent.Name = def.Agent.Name
	}
	if o.Agent.Description == "" {
		o.Agent.Description = def.Agent.Description
	}
	if o.Agent.Mode == "" {
		o.Agent.Mode = def.Agent.Mode
	}
	if o.Agent.Prompt == "" {
		o.Agent.Prompt = def.Agent.Prompt
	}
	if o.BashPattern == "" {
		o.BashPattern = def.BashPattern
	}
	if o.BashAction == "" {
		o.BashAction = def.BashAction
	}
	return o
}

type field struct {
	key, value string
}

// fields lists the keys written into the host's agent table, in order.
func (p AgentProfile) fields() []field {
	return []field{
		{"description", p.Description},
		{"prompt", p.Prompt},
		{"mode", p.Mode},
	}
}
