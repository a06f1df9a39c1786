package host

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnexpectedStatus is returned when the host answers with a non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected host status")

const maxEventSize = 4 << 20

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL   string
	Username  string
	Password  string
	Directory string
	Timeout   time.Duration
	Logger    zerolog.Logger
}

// Client talks to the OpenCode server API.
type Client struct {
	baseURL   *url.URL
	username  string
	password  string
	directory string
	http      *http.Client
	stream    *http.Client
	logger    zerolog.Logger
}

// NewClient creates a host client.
func NewClient(cfg ClientConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("host base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid host base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid host base URL scheme %q", base.Scheme)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	username := cfg.Username
	if username == "" && cfg.Password != "" {
		username = "opencode"
	}

	return &Client{
		baseURL:   base,
		username:  username,
		password:  cfg.Password,
		directory: strings.TrimSpace(cfg.Directory),
		http:      &http.Client{Timeout: timeout},
		// The event stream is long-lived; only the context bounds it.
		stream: &http.Client{},
		logger: cfg.Logger.With().Str("component", "host").Logger(),
	}, nil
}

// Messages returns up to limit messages of a session, oldest first.
// A limit of zero or less asks the host for its full history.
func (c *Client) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/message", query, nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", sessionID, err)
	}
	messages, err := DecodeMessages(body)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", sessionID, err)
	}
	return messages, nil
}

// Prompt delivers a message into a session.
func (c *Client) Prompt(ctx context.Context, prompt PromptRequest) error {
	if prompt.SessionID == "" {
		return fmt.Errorf("prompt session ID is required")
	}
	payload, err := json.Marshal(prompt)
	if err != nil {
		return fmt.Errorf("marshal prompt: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/session/"+url.PathEscape(prompt.SessionID)+"/message", nil, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("prompt %s: %w", prompt.SessionID, err)
	}
	return nil
}

// Events subscribes to the host event stream and calls handle for every
// decoded event until the stream ends or ctx is done.
func (c *Client) Events(ctx context.Context, handle func(Event)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/event", nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("subscribe events: %w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	c.logger.Debug().Str("url", req.URL.Redacted()).Msg("Event stream connected")
	return readEventStream(resp.Body, func(data []byte) {
		evt, ok := DecodeEvent(data)
		if !ok {
			c.logger.Debug().Int("bytes", len(data)).Msg("Skipping undecodable event")
			return
		}
		handle(evt)
	})
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	if query == nil {
		query = url.Values{}
	}
	if c.directory != "" {
		query.Set("directory", c.directory)
	}

	target := *c.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + path
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// readEventStream splits a server-sent event stream into data payloads.
// Multi-line data fields are joined with newlines; comments are ignored.
func readEventStream(r io.Reader, emit func([]byte)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var data []byte
	flush := func() {
		if len(data) > 0 {
			emit(data)
			data = nil
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, value...)
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}
