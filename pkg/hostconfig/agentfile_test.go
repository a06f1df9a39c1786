package hostconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/sterna-opencode/pkg/guidance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderAndParseAgentFile(t *testing.T) {
	profile := DefaultOptions().Agent

	data, err := RenderAgentFile(profile)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "---\ndescription: Sterna task completion agent\nmode: subagent\n---\n\n"))
	assert.NotContains(t, text, "name:")
	assert.Contains(t, text, "You are a Sterna task completion agent.")

	parsed, err := ParseAgentFile(data)
	require.NoError(t, err)
	assert.Equal(t, profile.Description, parsed.Description)
	assert.Equal(t, profile.Mode, parsed.Mode)
	assert.Equal(t, strings.TrimSpace(profile.Prompt), parsed.Prompt)
	assert.Empty(t, parsed.Name)
}

func TestParseAgentFileErrors(t *testing.T) {
	_, err := ParseAgentFile([]byte("no front matter"))
	assert.Error(t, err)

	_, err = ParseAgentFile([]byte("---\ndescription: x\n"))
	assert.Error(t, err)

	_, err = ParseAgentFile([]byte("---\ndescription: [unclosed\n---\nbody"))
	assert.Error(t, err)
}

func TestWriteAgentFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".opencode", "agent")

	path, changed, err := WriteAgentFile(dir, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, filepath.Join(dir, guidance.TaskAgentName+".md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	profile, err := ParseAgentFile(data)
	require.NoError(t, err)
	assert.Equal(t, ModeSubagent, profile.Mode)

	_, changed, err = WriteAgentFile(dir, DefaultOptions())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestWriteAgentFileUpdatesChangedProfile(t *testing.T) {
	dir := t.TempDir()
	_, _, err := WriteAgentFile(dir, DefaultOptions())
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Agent.Prompt = "Close one task, then stop."
	path, changed, err := WriteAgentFile(dir, opts)
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "---\n\nClose one task, then stop.\n"))
}
