package host

import (
	"strings"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ModelRef selects a model on the host.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// String returns provider/model, or "" for a nil ref.
func (m *ModelRef) String() string {
	if m == nil {
		return ""
	}
	return m.ProviderID + "/" + m.ModelID
}

// Part is a single content part of a message.
type Part struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string, synthetic bool) Part {
	return Part{Type: "text", Text: text, Synthetic: synthetic}
}

// Message is one historical message in a session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionID"`
	Role      Role      `json:"role"`
	Model     *ModelRef `json:"model,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Parts     []Part    `json:"parts,omitempty"`
}

// Contains reports whether any text part contains substr.
func (m Message) Contains(substr string) bool {
	for _, part := range m.Parts {
		if strings.Contains(part.Text, substr) {
			return true
		}
	}
	return false
}

// PromptRequest delivers a new message into a session.
type PromptRequest struct {
	SessionID string    `json:"-"`
	NoReply   bool      `json:"noReply,omitempty"`
	Model     *ModelRef `json:"model,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Parts     []Part    `json:"parts"`
}

// EventType names a host event kind.
type EventType string

const (
	EventMessageUpdated   EventType = "message.updated"
	EventSessionCompacted EventType = "session.compacted"
)

// Event is a decoded host event. Message is set for message events.
type Event struct {
	Type      EventType
	SessionID string
	Message   *Message
}
