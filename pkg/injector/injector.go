package injector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harun/sterna-opencode/internal/observability"
	"github.com/harun/sterna-opencode/internal/tracing"
	"github.com/harun/sterna-opencode/pkg/guidance"
	"github.com/harun/sterna-opencode/pkg/host"
	"github.com/harun/sterna-opencode/pkg/tracker"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultScanLimit    = 100
	DefaultContextLimit = 50
)

// PrimeRunner produces the priming payload.
type PrimeRunner interface {
	Prime(ctx context.Context) (string, error)
}

// HistoryReader lists session messages, oldest first.
type HistoryReader interface {
	Messages(ctx context.Context, sessionID string, limit int) ([]host.Message, error)
}

// MessageSender delivers a message into a session.
type MessageSender interface {
	Prompt(ctx context.Context, req host.PromptRequest) error
}

// MessageEvent is a new or continuing message in a session.
type MessageEvent struct {
	SessionID string
	Model     *host.ModelRef
	Agent     string
}

// CompactedEvent reports that a session's history was compacted.
type CompactedEvent struct {
	SessionID string
}

// Config configures an Injector.
type Config struct {
	Prime   PrimeRunner
	History HistoryReader
	Sender  MessageSender

	// Tracker defaults to a fresh tracker.
	Tracker *tracker.Tracker

	// ScanLimit bounds the marker lookback. ContextLimit bounds the
	// carry-over lookback after compaction.
	ScanLimit    int
	ContextLimit int

	// Guidance follows the context block; defaults to guidance.Session.
	Guidance string

	Logger zerolog.Logger
}

// Injector decides when to inject priming context into a session and
// delivers it.
type Injector struct {
	prime    PrimeRunner
	history  HistoryReader
	sender   MessageSender
	tracker  *tracker.Tracker
	scan     int
	lookback int
	guidance string
	logger   zerolog.Logger
}

// New creates an injector.
func New(cfg Config) (*Injector, error) {
	if cfg.Prime == nil {
		return nil, fmt.Errorf("prime runner is required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("history reader is required")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("message sender is required")
	}

	inj := &Injector{
		prime:    cfg.Prime,
		history:  cfg.History,
		sender:   cfg.Sender,
		tracker:  cfg.Tracker,
		scan:     cfg.ScanLimit,
		lookback: cfg.ContextLimit,
		guidance: cfg.Guidance,
		logger:   cfg.Logger.With().Str("component", "injector").Logger(),
	}
	if inj.tracker == nil {
		inj.tracker = tracker.New()
	}
	if inj.scan <= 0 {
		inj.scan = DefaultScanLimit
	}
	if inj.lookback <= 0 {
		inj.lookback = DefaultContextLimit
	}
	if strings.TrimSpace(inj.guidance) == "" {
		inj.guidance = guidance.Session
	}
	return inj, nil
}

// Tracker returns the session tracker owned by the injector.
func (i *Injector) Tracker() *tracker.Tracker {
	return i.tracker
}

// OnMessage injects context on the first message of a session.
//
// The tracker is consulted first, then history is scanned for the marker so
// that a restarted process does not inject twice. The session is marked
// before priming starts, so a duplicate event arriving meanwhile exits early.
func (i *Injector) OnMessage(ctx context.Context, evt MessageEvent) Result {
	ctx = withTrigger(ctx, evt.SessionID, TriggerMessage)
	result := Result{SessionID: evt.SessionID, Trigger: TriggerMessage}
	logger := tracing.LoggerFromContext(ctx, i.logger)

	if evt.SessionID == "" {
		result.Decision = DecisionIgnored
		return i.finish(result)
	}
	if i.tracker.HasInjected(evt.SessionID) {
		result.Decision = DecisionTracked
		return i.finish(result)
	}

	scan, err := i.ScanForMarker(ctx, evt.SessionID)
	result.Scan = scan
	if err != nil {
		logger.Debug().Err(err).Msg("History scan failed, assuming no prior injection")
	}
	if scan == ScanFound {
		i.tracker.MarkInjected(evt.SessionID)
		result.Decision = DecisionMarkerFound
		logger.Debug().Msg("Context already present in history")
		return i.finish(result)
	}

	if !i.tracker.MarkIfAbsent(evt.SessionID) {
		result.Decision = DecisionInFlight
		return i.finish(result)
	}

	result.Decision = DecisionInjected
	result.Selection = Selection{Model: evt.Model, Agent: evt.Agent}
	outcome := i.Inject(ctx, evt.SessionID, result.Selection)
	result.Outcome = &outcome
	return i.finish(result)
}

// OnCompacted resupplies context after the session history was compacted.
// The tracker is not consulted. The model and agent are recovered from the
// most recent user message since the event carries neither.
func (i *Injector) OnCompacted(ctx context.Context, evt CompactedEvent) Result {
	ctx = withTrigger(ctx, evt.SessionID, TriggerCompacted)
	result := Result{SessionID: evt.SessionID, Trigger: TriggerCompacted}

	if evt.SessionID == "" {
		result.Decision = DecisionIgnored
		return i.finish(result)
	}

	selection, scan, err := i.RecoverSelection(ctx, evt.SessionID)
	if err != nil {
		logger := tracing.LoggerFromContext(ctx, i.logger)
		logger.Debug().Err(err).Msg("Selection recovery failed, using host defaults")
	}
	result.Scan = scan
	result.Selection = selection

	// The injected message echoes back as a message event; the mark keeps
	// that echo from injecting again.
	i.tracker.MarkInjected(evt.SessionID)

	result.Decision = DecisionReinjected
	outcome := i.Inject(ctx, evt.SessionID, selection)
	result.Outcome = &outcome
	return i.finish(result)
}

// ScanForMarker reports whether any recent message of the session contains
// the context marker. A failed lookup yields ScanUnknown and the error.
func (i *Injector) ScanForMarker(ctx context.Context, sessionID string) (ScanResult, error) {
	ctx, span := tracing.StartSpan(ctx, "injector.scan_marker", attribute.Int("limit", i.scan))

	messages, err := i.history.Messages(ctx, sessionID, i.scan)
	if err != nil {
		observability.RecordHistoryScan("marker", ScanUnknown.String())
		tracing.EndSpan(span, err)
		return ScanUnknown, err
	}

	result := ScanNotFound
	for _, msg := range messages {
		if msg.Contains(guidance.Marker) {
			result = ScanFound
			break
		}
	}

	span.SetAttributes(attribute.String("result", result.String()), attribute.Int("messages", len(messages)))
	observability.RecordHistoryScan("marker", result.String())
	tracing.EndSpan(span, nil)
	return result, nil
}

// RecoverSelection walks recent history backward for the latest user
// message that carries a model selector.
func (i *Injector) RecoverSelection(ctx context.Context, sessionID string) (Selection, ScanResult, error) {
	ctx, span := tracing.StartSpan(ctx, "injector.recover_selection", attribute.Int("limit", i.lookback))

	messages, err := i.history.Messages(ctx, sessionID, i.lookback)
	if err != nil {
		observability.RecordHistoryScan("selection", ScanUnknown.String())
		tracing.EndSpan(span, err)
		return Selection{}, ScanUnknown, err
	}

	for idx := len(messages) - 1; idx >= 0; idx-- {
		msg := messages[idx]
		if msg.Role != host.RoleUser || msg.Model == nil {
			continue
		}
		model := *msg.Model
		span.SetAttributes(attribute.String("model", model.String()), attribute.String("agent", msg.Agent))
		observability.RecordHistoryScan("selection", ScanFound.String())
		tracing.EndSpan(span, nil)
		return Selection{Model: &model, Agent: msg.Agent}, ScanFound, nil
	}

	observability.RecordHistoryScan("selection", ScanNotFound.String())
	tracing.EndSpan(span, nil)
	return Selection{}, ScanNotFound, nil
}

// Inject primes and delivers context to the session. It never fails the
// caller; the outcome carries any error.
func (i *Injector) Inject(ctx context.Context, sessionID string, selection Selection) Outcome {
	if tracing.GetSessionID(ctx) == "" {
		ctx = tracing.WithSessionID(ctx, sessionID)
	}
	ctx, span := tracing.StartSpan(ctx, "injector.inject",
		attribute.String("model", selection.Model.String()),
		attribute.String("agent", selection.Agent),
	)
	logger := tracing.LoggerFromContext(ctx, i.logger)
	trigger := tracing.GetTrigger(ctx)
	if trigger == "" {
		trigger = string(TriggerManual)
	}

	outcome := i.inject(ctx, sessionID, selection)

	span.SetAttributes(attribute.String("status", string(outcome.Status)))
	tracing.EndSpan(span, outcome.Err)
	observability.RecordInjection(trigger, string(outcome.Status))

	event := logger.Info()
	if outcome.Err != nil {
		event = logger.Warn().Err(outcome.Err)
	} else if !outcome.Delivered() {
		event = logger.Debug()
	}
	event.
		Str("status", string(outcome.Status)).
		Str("model", selection.Model.String()).
		Str("agent", selection.Agent).
		Msg("Context injection finished")

	return outcome
}

func (i *Injector) inject(ctx context.Context, sessionID string, selection Selection) Outcome {
	start := time.Now()
	output, err := i.prime.Prime(ctx)
	observability.RecordPrime(time.Since(start), err == nil)
	if err != nil {
		return Outcome{Status: StatusPrimeFailed, Err: err}
	}

	payload := strings.TrimSpace(output)
	if payload == "" {
		return Outcome{Status: StatusEmpty}
	}

	message := Compose(payload, i.guidance)
	start = time.Now()
	err = i.sender.Prompt(ctx, host.PromptRequest{
		SessionID: sessionID,
		NoReply:   true,
		Model:     selection.Model,
		Agent:     selection.Agent,
		Parts:     []host.Part{host.TextPart(message, true)},
	})
	observability.RecordDelivery(time.Since(start), err == nil)
	if err != nil {
		return Outcome{Status: StatusDeliveryFailed, Err: err}
	}
	return Outcome{Status: StatusDelivered, Message: message}
}

// Compose builds the injected message text from a trimmed priming payload.
func Compose(payload, sessionGuidance string) string {
	return guidance.WrapContext(payload) + "\n\n" + sessionGuidance
}

func (i *Injector) finish(result Result) Result {
	observability.RecordDecision(string(result.Trigger), string(result.Decision))
	observability.SetTrackedSessions(i.tracker.Len())
	return result
}

func withTrigger(ctx context.Context, sessionID string, trigger Trigger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetEventID(ctx) == "" {
		return tracing.NewEventContext(ctx, sessionID, string(trigger))
	}
	return tracing.WithTrigger(tracing.WithSessionID(ctx, sessionID), string(trigger))
}
