package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/sterna-opencode/pkg/guidance"
	"github.com/harun/sterna-opencode/pkg/host"
	"github.com/harun/sterna-opencode/pkg/hostconfig"
	"github.com/harun/sterna-opencode/pkg/injector"
	"github.com/harun/sterna-opencode/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu        sync.Mutex
	messages  []injector.MessageEvent
	compacted []injector.CompactedEvent
	ctxErrs   []error
	panicOn   string
}

func (h *recordingHandler) OnMessage(ctx context.Context, evt injector.MessageEvent) injector.Result {
	if evt.SessionID == h.panicOn {
		panic("boom")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, evt)
	h.ctxErrs = append(h.ctxErrs, ctx.Err())
	return injector.Result{SessionID: evt.SessionID, Trigger: injector.TriggerMessage, Decision: injector.DecisionInjected}
}

func (h *recordingHandler) OnCompacted(ctx context.Context, evt injector.CompactedEvent) injector.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.compacted = append(h.compacted, evt)
	h.ctxErrs = append(h.ctxErrs, ctx.Err())
	return injector.Result{SessionID: evt.SessionID, Trigger: injector.TriggerCompacted, Decision: injector.DecisionReinjected}
}

func newTestPlugin(t *testing.T, handler Handler, mutate func(*Config)) *Plugin {
	t.Helper()
	cfg := Config{
		Injector:     handler,
		HostConfig:   hostconfig.DefaultOptions(),
		Logger:       zerolog.Nop(),
		ReconnectMin: 5 * time.Millisecond,
		ReconnectMax: 20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func TestNewRequiresInjector(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHandleEventRouting(t *testing.T) {
	handler := &recordingHandler{}
	p := newTestPlugin(t, handler, nil)
	ctx := context.Background()
	model := &host.ModelRef{ProviderID: "anthropic", ModelID: "claude-sonnet-4"}

	p.HandleEvent(ctx, host.Event{Type: host.EventMessageUpdated, SessionID: "s1",
		Message: &host.Message{SessionID: "s1", Role: host.RoleUser, Model: model, Agent: "build"}})
	p.HandleEvent(ctx, host.Event{Type: host.EventMessageUpdated, SessionID: "s1",
		Message: &host.Message{SessionID: "s1", Role: host.RoleAssistant, Model: model}})
	p.HandleEvent(ctx, host.Event{Type: host.EventMessageUpdated, SessionID: "s1"})
	p.HandleEvent(ctx, host.Event{Type: host.EventSessionCompacted, SessionID: "s2"})
	p.HandleEvent(ctx, host.Event{Type: "session.idle", SessionID: "s3"})
	p.Drain()

	require.Len(t, handler.messages, 1)
	assert.Equal(t, injector.MessageEvent{SessionID: "s1", Model: model, Agent: "build"}, handler.messages[0])
	require.Len(t, handler.compacted, 1)
	assert.Equal(t, "s2", handler.compacted[0].SessionID)
}

func TestTasksOutliveHostContext(t *testing.T) {
	handler := &recordingHandler{}
	p := newTestPlugin(t, handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.ChatMessage(ctx, injector.MessageEvent{SessionID: "s1"}))
	require.NoError(t, p.SessionCompacted(ctx, injector.CompactedEvent{SessionID: "s1"}))
	p.Drain()

	require.Len(t, handler.ctxErrs, 2)
	for _, err := range handler.ctxErrs {
		assert.NoError(t, err)
	}
}

func TestTaskPanicIsContained(t *testing.T) {
	handler := &recordingHandler{panicOn: "bad"}
	var results atomic.Int32
	p := newTestPlugin(t, handler, func(cfg *Config) {
		cfg.OnResult = func(injector.Result) { results.Add(1) }
	})

	require.NoError(t, p.ChatMessage(context.Background(), injector.MessageEvent{SessionID: "bad"}))
	require.NoError(t, p.ChatMessage(context.Background(), injector.MessageEvent{SessionID: "good"}))

	assert.NotPanics(t, p.Drain)
	assert.Equal(t, int32(1), results.Load())
	require.Len(t, handler.messages, 1)
	assert.Equal(t, "good", handler.messages[0].SessionID)
}

func TestTaskPanicIsLoggedWithSession(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPlugin(t, &recordingHandler{panicOn: "bad"}, func(cfg *Config) {
		cfg.Logger = zerolog.New(&buf)
	})

	require.NoError(t, p.ChatMessage(context.Background(), injector.MessageEvent{SessionID: "bad"}))
	p.Drain()

	out := buf.String()
	assert.Contains(t, out, "Injection task panicked")
	assert.Contains(t, out, `"panic":"boom"`)
	assert.Contains(t, out, `"session_id":"bad"`)
	assert.Contains(t, out, `"trigger":"message"`)
}

func TestDrainRejectsNewTasks(t *testing.T) {
	p := newTestPlugin(t, &recordingHandler{}, nil)
	p.Drain()

	err := p.ChatMessage(context.Background(), injector.MessageEvent{SessionID: "s1"})
	assert.True(t, errors.Is(err, ErrDraining))
}

func TestConfigHook(t *testing.T) {
	p := newTestPlugin(t, &recordingHandler{}, nil)
	cfg := map[string]any{"permission": map[string]any{"bash": "ask"}}

	p.Config(cfg)

	agents := cfg["agent"].(map[string]any)
	assert.Contains(t, agents, guidance.TaskAgentName)
	bash := cfg["permission"].(map[string]any)["bash"].(map[string]any)
	assert.Equal(t, "allow", bash[guidance.CLIPermissionPattern])
	assert.Equal(t, "ask", bash["*"])
}

func TestApplyHostConfig(t *testing.T) {
	p := newTestPlugin(t, &recordingHandler{}, nil)
	path := filepath.Join(t.TempDir(), "opencode.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"permission": {"bash": "ask"}}`), 0644))

	assert.True(t, p.ApplyHostConfig(path))
	assert.False(t, p.ApplyHostConfig(path), "second apply is a no-op")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Contains(t, cfg["agent"], guidance.TaskAgentName)
	bash, ok := cfg["permission"].(map[string]any)["bash"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "allow", bash[guidance.CLIPermissionPattern])
	assert.Equal(t, "ask", bash["*"])
}

func TestApplyHostConfigSwallowsErrors(t *testing.T) {
	p := newTestPlugin(t, &recordingHandler{}, nil)
	path := filepath.Join(t.TempDir(), "opencode.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1, 2]`), 0644))

	assert.False(t, p.ApplyHostConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[1, 2]", string(data))
}

type flakySource struct {
	calls atomic.Int32
}

func (s *flakySource) Events(ctx context.Context, handle func(host.Event)) error {
	n := s.calls.Add(1)
	if n < 3 {
		return errors.New("connection reset")
	}
	handle(host.Event{Type: host.EventSessionCompacted, SessionID: "s1"})
	<-ctx.Done()
	return ctx.Err()
}

func TestRunReconnects(t *testing.T) {
	handler := &recordingHandler{}
	done := make(chan injector.Result, 1)
	p := newTestPlugin(t, handler, func(cfg *Config) {
		cfg.OnResult = func(result injector.Result) { done <- result }
	})
	src := &flakySource{}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx, src) }()

	select {
	case result := <-done:
		assert.Equal(t, injector.DecisionReinjected, result.Decision)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered after reconnect")
	}
	assert.Equal(t, int32(3), src.calls.Load())

	cancel()
	assert.NoError(t, <-runErr)
	p.Drain()
}

type stubPrime struct {
	calls atomic.Int32
	text  string
}

func (s *stubPrime) Prime(ctx context.Context) (string, error) {
	s.calls.Add(1)
	return s.text, nil
}

func countMarkers(messages []host.Message) int {
	n := 0
	for _, msg := range messages {
		if msg.Contains(guidance.Marker) {
			n++
		}
	}
	return n
}

func TestEndToEndWithSessionStore(t *testing.T) {
	store, err := session.New(session.Config{Dir: t.TempDir(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	prime := &stubPrime{text: "Plan: fix bug"}
	inj, err := injector.New(injector.Config{Prime: prime, History: store, Sender: store, Logger: zerolog.Nop()})
	require.NoError(t, err)

	results := make(chan injector.Result, 64)
	p := newTestPlugin(t, inj, func(cfg *Config) {
		cfg.OnResult = func(result injector.Result) { results <- result }
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx, store) }()

	model := &host.ModelRef{ProviderID: "anthropic", ModelID: "claude-sonnet-4"}
	userMessage := host.Message{SessionID: "ses_1", Role: host.RoleUser, Model: model, Agent: "build",
		Parts: []host.Part{host.TextPart("hello", false)}}

	waitFor := func(trigger injector.Trigger, decision injector.Decision, poke func()) injector.Result {
		t.Helper()
		deadline := time.After(3 * time.Second)
		for {
			if poke != nil {
				poke()
			}
			select {
			case result := <-results:
				if result.Trigger == trigger && result.Decision == decision {
					return result
				}
			case <-time.After(20 * time.Millisecond):
			case <-deadline:
				t.Fatalf("no %s/%s result", trigger, decision)
			}
		}
	}

	// Poke until the subscription is live; later pokes hit the tracker.
	first := waitFor(injector.TriggerMessage, injector.DecisionInjected, func() {
		_, err := store.Append(context.Background(), userMessage)
		assert.NoError(t, err)
	})
	require.NotNil(t, first.Outcome)
	assert.True(t, first.Outcome.Delivered())
	assert.Equal(t, model, first.Selection.Model)

	messages, err := store.Messages(context.Background(), "ses_1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, countMarkers(messages))

	// Keep only a plain user message across the compaction.
	_, err = store.Append(context.Background(), userMessage)
	require.NoError(t, err)
	require.NoError(t, store.Compact(context.Background(), "ses_1", "summary", 1))
	second := waitFor(injector.TriggerCompacted, injector.DecisionReinjected, nil)
	require.NotNil(t, second.Outcome)
	assert.True(t, second.Outcome.Delivered())
	assert.Equal(t, model, second.Selection.Model)
	assert.Equal(t, "build", second.Selection.Agent)

	cancel()
	p.Drain()

	messages, err = store.Messages(context.Background(), "ses_1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, countMarkers(messages))
	assert.Equal(t, int32(2), prime.calls.Load())
}
