package guidance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapContext(t *testing.T) {
	wrapped := WrapContext("Plan: fix bug")
	assert.Equal(t, "<sterna-context>\nPlan: fix bug\n</sterna-context>", wrapped)
	assert.True(t, strings.HasPrefix(wrapped, Marker))
}

func TestGuidanceTextDoesNotContainMarker(t *testing.T) {
	// Guidance follows every context block; a marker inside it would be
	// counted as a second injection.
	assert.NotContains(t, Session, Marker)
	assert.NotContains(t, TaskAgentPrompt, Marker)
}

func TestGuidanceMentionsTaskAgent(t *testing.T) {
	assert.Contains(t, Session, TaskAgentName)
	assert.Contains(t, Session, CLIUsage)
	assert.Contains(t, TaskAgentPrompt, CLIUsage)
	assert.True(t, strings.HasPrefix(CLIPermissionPattern, "st "))
}
