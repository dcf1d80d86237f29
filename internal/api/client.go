// Package api implements the slice of the HoneyHive REST surface the
// tracer consumes: starting a session at initialization and delivering
// canonical events for the event exporter.
//
// Errors come back pre-classified for the retry loop: 4xx responses
// other than 408/429 are wrapped with backoff.Permanent so retries
// stop immediately, and 429/503 responses carry their Retry-After as a
// backoff hint. Network failures and 5xx stay retryable.
package api

import (
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

	"github.com/honeyhiveai/honeyhive-go/internal/backoff"
	"github.com/honeyhiveai/honeyhive-go/internal/logging"
	"github.com/honeyhiveai/honeyhive-go/pkg/models"
)

const (
	// DefaultServerURL is the hosted HoneyHive API endpoint.
	DefaultServerURL = "https://api.honeyhive.ai"

	// DefaultTimeout bounds each request, dial to last byte.
	DefaultTimeout = 10 * time.Second

	// maxErrorBody caps how much of an error response is kept for the
	// error message.
	maxErrorBody = 4 << 10
)

// Config holds the settings for the API client.
type Config struct {
	// ServerURL is the API base URL (default: https://api.honeyhive.ai).
	ServerURL string

	// APIKey authenticates every request as a bearer token (required).
	APIKey string

	// Project is sent as the X-Project header on every request.
	Project string

	// Source is sent as the X-Source header on every request.
	Source string

	// Timeout bounds each request (default: 10s). Ignored when
	// HTTPClient is set.
	Timeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// Logger receives request-level debug output (default: silent).
	Logger *logging.Logger
}

// Client is a HoneyHive REST client. It is safe for concurrent use.
type Client struct {
	serverURL string
	apiKey    string
	project   string
	source    string
	http      *http.Client
	log       *logging.Logger
}

// NewClient builds a client from cfg, filling in defaults for unset
// fields.
func NewClient(cfg Config) *Client {
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	return &Client{
		serverURL: strings.TrimRight(cfg.ServerURL, "/"),
		apiKey:    cfg.APIKey,
		project:   cfg.Project,
		source:    cfg.Source,
		http:      cfg.HTTPClient,
		log:       cfg.Logger,
	}
}

// SessionStart is the payload for creating the session row that all
// events of one trace session hang off.
type SessionStart struct {
	SessionID      string         `json:"session_id,omitempty"`
	Project        string         `json:"project"`
	SessionName    string         `json:"session_name,omitempty"`
	Source         string         `json:"source,omitempty"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	UserProperties map[string]any `json:"user_properties,omitempty"`
}

type sessionStartResponse struct {
	SessionID string `json:"session_id"`
}

// StartSession registers a new session and returns its id. When the
// server does not assign one, the id from the request is echoed back.
func (c *Client) StartSession(ctx context.Context, start SessionStart) (string, error) {
	if start.Project == "" {
		start.Project = c.project
	}
	if start.Source == "" {
		start.Source = c.source
	}

	var resp sessionStartResponse
	if err := c.post(ctx, "/session/start", start, &resp); err != nil {
		return "", err
	}
	if resp.SessionID != "" {
		return resp.SessionID, nil
	}
	return start.SessionID, nil
}

// PostEvents delivers a batch of canonical events. The body is a JSON
// array; the server treats events as an unordered set keyed by
// event_id, so batches may be retried without ordering concerns.
func (c *Client) PostEvents(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}
	return c.post(ctx, "/events", events, nil)
}

// PostEvent delivers one event through the single-event form of the
// endpoint.
func (c *Client) PostEvent(ctx context.Context, event *models.Event) error {
	if event == nil {
		return nil
	}
	return c.post(ctx, "/events/"+url.PathEscape(event.EventID), event, nil)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("api: encode %s body: %w", path, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("api: build %s request: %w", path, err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.project != "" {
		req.Header.Set("X-Project", c.project)
	}
	if c.source != "" {
		req.Header.Set("X-Source", c.source)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: post %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.log.Debug(ctx, "api request", "path", path, "status", resp.StatusCode, "bytes", len(body))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classifyStatus(resp, path, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("api: decode %s response: %w", path, err)
		}
	}
	return nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Path string
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api: %s returned status %d", e.Path, e.Code)
	}
	return fmt.Sprintf("api: %s returned status %d: %s", e.Path, e.Code, e.Body)
}

// classifyStatus maps a non-2xx response onto the retry taxonomy. 5xx
// and 408/429 remain retryable, with Retry-After surfaced as a delay
// hint when present; every other 4xx is permanent.
func classifyStatus(resp *http.Response, path, snippet string) error {
	statusErr := &StatusError{Code: resp.StatusCode, Path: path, Body: snippet}

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable:
		if after, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return backoff.WithHint(statusErr, after)
		}
		return statusErr
	case code == http.StatusRequestTimeout:
		return statusErr
	case code >= 400 && code < 500:
		return backoff.Permanent(statusErr)
	default:
		return statusErr
	}
}

// parseRetryAfter reads a Retry-After value as either delay seconds or
// an HTTP date.
func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
	}
	return 0, false
}
