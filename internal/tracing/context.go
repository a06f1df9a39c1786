package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// EventIDKey is the context key for the host event being handled
	EventIDKey ContextKey = "event_id"
	// SessionIDKey is the context key for the host session ID
	SessionIDKey ContextKey = "session_id"
	// TriggerKey is the context key for what caused an injection attempt
	TriggerKey ContextKey = "trigger"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	EventID   string
	SessionID string
	Trigger   string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewEventID generates a new event ID
func NewEventID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithEventID adds an event ID to the context
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, EventIDKey, eventID)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithTrigger adds the injection trigger to the context
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, TriggerKey, trigger)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(key).(string); ok {
		return value
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetEventID retrieves the event ID from the context
func GetEventID(ctx context.Context) string {
	return stringValue(ctx, EventIDKey)
}

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string {
	return stringValue(ctx, SessionIDKey)
}

// GetTrigger retrieves the injection trigger from the context
func GetTrigger(ctx context.Context) string {
	return stringValue(ctx, TriggerKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		EventID:   GetEventID(ctx),
		SessionID: GetSessionID(ctx),
		Trigger:   GetTrigger(ctx),
	}
}

// NewEventContext starts tracing for one host event. The trace ID of ctx is
// kept when present.
func NewEventContext(ctx context.Context, sessionID, trigger string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithEventID(ctx, NewEventID())
	ctx = WithSessionID(ctx, sessionID)
	return WithTrigger(ctx, trigger)
}
