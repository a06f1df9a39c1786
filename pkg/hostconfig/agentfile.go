package hostconfig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterDelim = "---"

// AgentFilePath returns where WriteAgentFile puts the profile in dir.
func AgentFilePath(dir string, opts Options) string {
	return filepath.Join(dir, opts.normalized().Agent.Name+".md")
}

// RenderAgentFile renders a profile as markdown with YAML front matter,
// the layout the host reads from its agent directory.
func RenderAgentFile(profile AgentProfile) ([]byte, error) {
	meta, err := yaml.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")
	buf.Write(meta)
	buf.WriteString(frontMatterDelim + "\n\n")
	buf.WriteString(strings.TrimSpace(profile.Prompt))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// ParseAgentFile reads a profile rendered by RenderAgentFile. The name is
// not part of the file and is left empty.
func ParseAgentFile(data []byte) (AgentProfile, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		return AgentProfile{}, fmt.Errorf("agent file has no front matter")
	}
	rest := text[len(frontMatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelim)
	if end < 0 {
		return AgentProfile{}, fmt.Errorf("agent file front matter is not terminated")
	}

	var profile AgentProfile
	if err := yaml.Unmarshal([]byte(rest[:end]), &profile); err != nil {
		return AgentProfile{}, fmt.Errorf("failed to parse agent front matter: %w", err)
	}
	body := rest[end+len(frontMatterDelim)+1:]
	profile.Prompt = strings.TrimSpace(body)
	return profile, nil
}

// WriteAgentFile writes the agent profile into dir, typically
// .opencode/agent. An existing file with the same profile is left as is.
func WriteAgentFile(dir string, opts Options) (string, bool, error) {
	opts = opts.normalized()
	path := AgentFilePath(dir, opts)

	if existing, err := os.ReadFile(path); err == nil {
		if current, err := ParseAgentFile(existing); err == nil &&
			current.Description == opts.Agent.Description &&
			current.Mode == opts.Agent.Mode &&
			current.Prompt == strings.TrimSpace(opts.Agent.Prompt) {
			return path, false, nil
		}
	}

	data, err := RenderAgentFile(opts.Agent)
	if err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false, fmt.Errorf("failed to create agent directory: %w", err)
	}
	if err := writeAtomic(path, bytes.TrimRight(data, "\n"), 0644); err != nil {
		return "", false, err
	}
	return path, true, nil
}
