package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/sterna-opencode/internal/observability"
	"github.com/harun/sterna-opencode/internal/tracing"
	"github.com/harun/sterna-opencode/pkg/host"
	"github.com/harun/sterna-opencode/pkg/hostconfig"
	"github.com/harun/sterna-opencode/pkg/injector"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// ErrDraining is returned when a task is submitted after Drain started.
var ErrDraining = errors.New("plugin is draining")

// Handler is the part of the injector the plugin drives.
type Handler interface {
	OnMessage(ctx context.Context, evt injector.MessageEvent) injector.Result
	OnCompacted(ctx context.Context, evt injector.CompactedEvent) injector.Result
}

// EventSource streams host events until the stream ends or ctx is done.
type EventSource interface {
	Events(ctx context.Context, handle func(host.Event)) error
}

// Config configures a Plugin.
type Config struct {
	Injector   Handler
	HostConfig hostconfig.Options
	Logger     zerolog.Logger

	// ReconnectMin and ReconnectMax bound the delay between event stream
	// reconnects. The delay doubles on each consecutive failure.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// OnResult observes every finished task.
	OnResult func(injector.Result)
}

// Plugin routes host events to the injector.
type Plugin struct {
	handler      Handler
	hostConfig   hostconfig.Options
	logger       zerolog.Logger
	reconnectMin time.Duration
	reconnectMax time.Duration
	onResult     func(injector.Result)

	mu       sync.Mutex
	draining bool
	tasks    conc.WaitGroup
}

// New creates a plugin.
func New(cfg Config) (*Plugin, error) {
	if cfg.Injector == nil {
		return nil, fmt.Errorf("injector is required")
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}

	return &Plugin{
		handler:      cfg.Injector,
		hostConfig:   cfg.HostConfig,
		logger:       cfg.Logger.With().Str("component", "plugin").Logger(),
		reconnectMin: cfg.ReconnectMin,
		reconnectMax: cfg.ReconnectMax,
		onResult:     cfg.OnResult,
	}, nil
}

// Config is the host configuration hook for a host that hands over its
// decoded config. It registers the task agent and the st permission in cfg.
func (p *Plugin) Config(cfg map[string]any) {
	if hostconfig.Apply(cfg, p.hostConfig) {
		p.logger.Debug().Msg("Host config amended")
	}
}

// ApplyHostConfig runs the configuration hook against the host config file
// at path. Failures are logged and reported as no change.
func (p *Plugin) ApplyHostConfig(path string) bool {
	changed, err := hostconfig.ApplyFile(path, p.hostConfig, p.logger)
	if err != nil {
		p.logger.Warn().Err(err).Str("path", path).Msg("Host config not amended")
		return false
	}
	return changed
}

// ChatMessage handles a new message in a session. It returns immediately.
func (p *Plugin) ChatMessage(ctx context.Context, evt injector.MessageEvent) error {
	return p.submit(ctx, evt.SessionID, injector.TriggerMessage, func(ctx context.Context) injector.Result {
		return p.handler.OnMessage(ctx, evt)
	})
}

// SessionCompacted handles a history compaction. It returns immediately.
func (p *Plugin) SessionCompacted(ctx context.Context, evt injector.CompactedEvent) error {
	return p.submit(ctx, evt.SessionID, injector.TriggerCompacted, func(ctx context.Context) injector.Result {
		return p.handler.OnCompacted(ctx, evt)
	})
}

// HandleEvent routes one host event. User message updates become message
// events and compactions become compaction events; everything else is
// ignored.
func (p *Plugin) HandleEvent(ctx context.Context, evt host.Event) {
	observability.RecordHostEvent(string(evt.Type))

	var err error
	switch evt.Type {
	case host.EventMessageUpdated:
		if evt.Message == nil || evt.Message.Role != host.RoleUser {
			return
		}
		err = p.ChatMessage(ctx, injector.MessageEvent{
			SessionID: evt.SessionID,
			Model:     evt.Message.Model,
			Agent:     evt.Message.Agent,
		})
	case host.EventSessionCompacted:
		err = p.SessionCompacted(ctx, injector.CompactedEvent{SessionID: evt.SessionID})
	default:
		return
	}
	if err != nil {
		p.logger.Debug().Err(err).Str("event", string(evt.Type)).Msg("Event dropped")
	}
}

// Run consumes src until ctx is done, reconnecting when the stream ends.
func (p *Plugin) Run(ctx context.Context, src EventSource) error {
	delay := p.reconnectMin
	for {
		start := time.Now()
		err := src.Events(ctx, func(evt host.Event) {
			p.HandleEvent(ctx, evt)
		})
		if ctx.Err() != nil {
			return nil
		}

		// A stream that stayed up for a while resets the backoff.
		if time.Since(start) > p.reconnectMax {
			delay = p.reconnectMin
		}
		event := p.logger.Warn()
		if err == nil {
			event = p.logger.Info()
		}
		event.Err(err).Dur("retry_in", delay).Msg("Host event stream ended")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, p.reconnectMax)
	}
}

// Drain stops accepting tasks and waits for the running ones.
func (p *Plugin) Drain() {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()

	p.tasks.Wait()
}

func (p *Plugin) submit(ctx context.Context, sessionID string, trigger injector.Trigger, run func(context.Context) injector.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		return ErrDraining
	}

	if ctx == nil {
		ctx = context.Background()
	}
	taskCtx := tracing.NewEventContext(context.WithoutCancel(ctx), sessionID, string(trigger))

	p.tasks.Go(func() {
		var catcher panics.Catcher
		var result injector.Result
		catcher.Try(func() {
			result = run(taskCtx)
		})
		if recovered := catcher.Recovered(); recovered != nil {
			observability.RecordTaskPanic()
			logger := tracing.LoggerFromContext(taskCtx, p.logger)
			logger.Error().
				Str("panic", fmt.Sprint(recovered.Value)).
				Str("stack", string(recovered.Stack)).
				Msg("Injection task panicked")
			return
		}
		if p.onResult != nil {
			p.onResult(result)
		}
	})
	return nil
}
