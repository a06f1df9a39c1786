package hostconfig

// Apply amends a decoded host config in place and reports whether anything
// changed. The agent entry is merged field by field so extra keys such as
// a model override survive. A string permission.bash is turned into a table
// whose "*" rule keeps the previous value.
func Apply(cfg map[string]any, opts Options) bool {
	if cfg == nil {
		return false
	}
	opts = opts.normalized()
	changed := false

	agents, ok := cfg["agent"].(map[string]any)
	if !ok {
		agents = map[string]any{}
		cfg["agent"] = agents
		changed = true
	}
	agent, ok := agents[opts.Agent.Name].(map[string]any)
	if !ok {
		agent = map[string]any{}
		agents[opts.Agent.Name] = agent
		changed = true
	}
	for _, f := range opts.Agent.fields() {
		if current, ok := agent[f.key].(string); !ok || current != f.value {
			agent[f.key] = f.value
			changed = true
		}
	}

	permission, ok := cfg["permission"].(map[string]any)
	if !ok {
		permission = map[string]any{}
		cfg["permission"] = permission
		changed = true
	}
	var bash map[string]any
	switch current := permission["bash"].(type) {
	case map[string]any:
		bash = current
	case string:
		bash = map[string]any{wildcardKey: current}
		permission["bash"] = bash
		changed = true
	default:
		bash = map[string]any{}
		permission["bash"] = bash
		changed = true
	}
	if current, ok := bash[opts.BashPattern].(string); !ok || current != opts.BashAction {
		bash[opts.BashPattern] = opts.BashAction
		changed = true
	}

	return changed
}
