package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns baseLogger enriched with the tracing fields
// found in ctx.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	logCtx := baseLogger.With()

	if tc.TraceID != "" {
		logCtx = logCtx.Str("trace_id", tc.TraceID)
	}
	if tc.EventID != "" {
		logCtx = logCtx.Str("event_id", tc.EventID)
	}
	if tc.SessionID != "" {
		logCtx = logCtx.Str("session_id", tc.SessionID)
	}
	if tc.Trigger != "" {
		logCtx = logCtx.Str("trigger", tc.Trigger)
	}

	return logCtx.Logger()
}
