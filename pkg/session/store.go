package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/sterna-opencode/internal/tracing"
	"github.com/harun/sterna-opencode/pkg/host"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrInvalidSessionID is returned for IDs that are empty or not path-safe.
var ErrInvalidSessionID = errors.New("invalid session id")

var errMissingRole = errors.New("message has no role")

const (
	fileSuffix      = ".jsonl"
	tempSuffix      = ".tmp"
	maxLineSize     = 4 << 20
	defaultSummary  = "Conversation compacted."
	sessionIDPrefix = "ses_"
	messageIDPrefix = "msg_"
)

// Config configures a Store.
type Config struct {
	// Dir holds one JSONL file per session; defaults to ~/.sterna/sessions.
	Dir    string
	Logger zerolog.Logger
}

// record is one line of a session file.
type record struct {
	Time    time.Time    `json:"time"`
	Message host.Message `json:"message"`
}

// Store persists sessions as JSONL files.
type Store struct {
	dir    string
	logger zerolog.Logger

	locksMu    sync.Mutex
	writeLocks map[string]*sync.Mutex

	// onWatching is called once Events has taken its directory snapshot.
	onWatching func()
}

// New creates a store, creating its directory if needed.
func New(cfg Config) (*Store, error) {
	dir := cfg.Dir
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".sterna", "sessions")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		logger:     cfg.Logger.With().Str("component", "session_store").Logger(),
		writeLocks: make(map[string]*sync.Mutex),
	}
	s.logger.Debug().Str("dir", dir).Msg("Session store initialized")
	return s, nil
}

// Dir returns the directory holding session files.
func (s *Store) Dir() string {
	return s.dir
}

// NewSessionID returns a fresh session ID.
func NewSessionID() string {
	return sessionIDPrefix + gonanoid.Must()
}

// ValidateSessionID rejects IDs that cannot be used as a file name.
func ValidateSessionID(sessionID string) error {
	switch {
	case sessionID == "":
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	case strings.Contains(sessionID, ".."):
		return fmt.Errorf("%w: contains '..'", ErrInvalidSessionID)
	case strings.ContainsAny(sessionID, "/\\"):
		return fmt.Errorf("%w: contains path separators", ErrInvalidSessionID)
	case strings.Contains(sessionID, "\x00"):
		return fmt.Errorf("%w: contains null bytes", ErrInvalidSessionID)
	}
	return nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+fileSuffix)
}

func (s *Store) writeLock(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, ok := s.writeLocks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.writeLocks[sessionID] = lock
	return lock
}

// Append writes msg to its session. Missing message IDs are generated.
func (s *Store) Append(ctx context.Context, msg host.Message) (host.Message, error) {
	ctx = tracing.WithSessionID(ctx, msg.SessionID)
	_, span := tracing.StartSpan(ctx, "session.append", attribute.String("role", string(msg.Role)))

	if err := ValidateSessionID(msg.SessionID); err != nil {
		tracing.EndSpan(span, err)
		return host.Message{}, err
	}
	if msg.Role == "" {
		err := fmt.Errorf("message role cannot be empty")
		tracing.EndSpan(span, err)
		return host.Message{}, err
	}
	if msg.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			tracing.EndSpan(span, err)
			return host.Message{}, fmt.Errorf("failed to generate message id: %w", err)
		}
		msg.ID = messageIDPrefix + id
	}

	lock := s.writeLock(msg.SessionID)
	lock.Lock()
	err := s.appendRecord(msg)
	lock.Unlock()
	tracing.EndSpan(span, err)
	if err != nil {
		return host.Message{}, err
	}

	s.logger.Debug().
		Str("session_id", msg.SessionID).
		Str("message_id", msg.ID).
		Str("role", string(msg.Role)).
		Msg("Message appended")
	return msg, nil
}

func (s *Store) appendRecord(msg host.Message) error {
	file, err := os.OpenFile(s.path(msg.SessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(record{Time: time.Now().UTC(), Message: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

// Messages returns the last limit messages of a session, oldest first. A
// limit of zero or less returns all of them. Unknown sessions are empty.
func (s *Store) Messages(ctx context.Context, sessionID string, limit int) ([]host.Message, error) {
	ctx = tracing.WithSessionID(ctx, sessionID)
	_, span := tracing.StartSpan(ctx, "session.messages", attribute.Int("limit", limit))

	if err := ValidateSessionID(sessionID); err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}

	messages, err := s.load(sessionID)
	tracing.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (s *Store) load(sessionID string) ([]host.Message, error) {
	file, err := os.Open(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return []host.Message{}, nil
		}
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	messages := []host.Message{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := decodeRecord(line)
		if err != nil {
			s.logger.Warn().
				Str("session_id", sessionID).
				Int("line", lineNum).
				Err(err).
				Msg("Invalid line, skipping")
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return messages, nil
}

func decodeRecord(line []byte) (host.Message, error) {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return host.Message{}, err
	}
	if rec.Message.Role == "" {
		return host.Message{}, errMissingRole
	}
	return rec.Message, nil
}

// Prompt records req as a user message in its session. The store never
// produces replies, so NoReply has no further effect.
func (s *Store) Prompt(ctx context.Context, req host.PromptRequest) error {
	if req.SessionID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	_, err := s.Append(ctx, host.Message{
		SessionID: req.SessionID,
		Role:      host.RoleUser,
		Model:     req.Model,
		Agent:     req.Agent,
		Parts:     req.Parts,
	})
	return err
}

// Compact replaces a session's history with a summary message followed by
// the last keep messages. The file is swapped by rename, which Events
// reports as session.compacted.
func (s *Store) Compact(ctx context.Context, sessionID, summary string, keep int) error {
	ctx = tracing.WithSessionID(ctx, sessionID)
	_, span := tracing.StartSpan(ctx, "session.compact", attribute.Int("keep", keep))

	if err := ValidateSessionID(sessionID); err != nil {
		tracing.EndSpan(span, err)
		return err
	}
	if strings.TrimSpace(summary) == "" {
		summary = defaultSummary
	}

	lock := s.writeLock(sessionID)
	lock.Lock()
	removed, err := s.rewrite(sessionID, summary, keep)
	lock.Unlock()
	tracing.EndSpan(span, err)
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Int("removed", removed).
		Msg("Session compacted")
	return nil
}

func (s *Store) rewrite(sessionID, summary string, keep int) (int, error) {
	messages, err := s.load(sessionID)
	if err != nil {
		return 0, err
	}

	kept := []host.Message{}
	if keep > 0 && len(messages) > 0 {
		start := max(len(messages)-keep, 0)
		kept = messages[start:]
	}

	id, err := gonanoid.New()
	if err != nil {
		return 0, fmt.Errorf("failed to generate message id: %w", err)
	}
	summaryMsg := host.Message{
		ID:        messageIDPrefix + id,
		SessionID: sessionID,
		Role:      host.RoleAssistant,
		Parts:     []host.Part{host.TextPart(summary, true)},
	}

	sessionPath := s.path(sessionID)
	tempPath := sessionPath + tempSuffix
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	now := time.Now().UTC()
	for _, msg := range append([]host.Message{summaryMsg}, kept...) {
		data, err := json.Marshal(record{Time: now, Message: msg})
		if err == nil {
			_, err = file.Write(append(data, '\n'))
		}
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return 0, fmt.Errorf("failed to write entry: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return 0, fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("failed to replace session file: %w", err)
	}
	return len(messages) - len(kept), nil
}

// Delete removes a session file. Deleting an unknown session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	lock := s.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	s.locksMu.Lock()
	delete(s.writeLocks, sessionID)
	s.locksMu.Unlock()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Str("session_id", sessionID).Msg("Session deleted")
	return nil
}

// ListSessions returns the IDs of all stored sessions, sorted.
func (s *Store) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	sessions := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(name, fileSuffix))
	}
	sort.Strings(sessions)
	return sessions, nil
}
