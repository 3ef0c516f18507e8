// Package termsvc is a thin HTTP client for the agent terminal service.
//
// The service multiplexes interactive AI agent terminals behind a small
// REST surface: sessions group terminals, each terminal runs one agent
// profile under one provider, and input/output flow through per-terminal
// endpoints. The client stays deliberately primitive; retry, polling and
// handoff policy live with the callers.
package termsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quintetdev/quintet/internal/errors"
)

// Status is a terminal lifecycle state as reported by the service.
type Status string

const (
	StatusIdle              Status = "idle"
	StatusProcessing        Status = "processing"
	StatusCompleted         Status = "completed"
	StatusWaitingUserAnswer Status = "waiting_user_answer"
	StatusError             Status = "error"
	StatusUnknown           Status = "unknown"
)

// Settled reports whether the terminal has finished its current turn.
// Only idle and completed count; waiting_user_answer means the agent is
// blocked on a human and must not be treated as done.
func (s Status) Settled() bool {
	return s == StatusIdle || s == StatusCompleted
}

// Terminal is the service's representation of a created terminal.
type Terminal struct {
	ID          string `json:"id"`
	SessionName string `json:"session_name"`
}

const defaultTimeout = 30 * time.Second

// Client talks to one terminal service instance.
type Client struct {
	baseURL    string
	workDir    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New returns a client for the service at baseURL. workDir is passed to the
// service on session and terminal creation so agents start in the project
// directory being orchestrated.
func New(baseURL, workDir string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		workDir:    workDir,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession creates a new session with its first terminal and returns
// that terminal. The session name comes back on the terminal record.
func (c *Client) CreateSession(ctx context.Context, profile, provider string) (Terminal, error) {
	q := url.Values{}
	q.Set("provider", provider)
	q.Set("agent_profile", profile)
	q.Set("working_directory", c.workDir)

	var t Terminal
	if err := c.postJSON(ctx, "/sessions", q, &t); err != nil {
		return Terminal{}, errors.NewTerminalError("create session", "", err)
	}
	return t, nil
}

// CreateTerminal adds a terminal to an existing session.
func (c *Client) CreateTerminal(ctx context.Context, sessionName, profile, provider string) (Terminal, error) {
	q := url.Values{}
	q.Set("provider", provider)
	q.Set("agent_profile", profile)
	q.Set("working_directory", c.workDir)

	var t Terminal
	path := "/sessions/" + url.PathEscape(sessionName) + "/terminals"
	if err := c.postJSON(ctx, path, q, &t); err != nil {
		return Terminal{}, errors.NewTerminalError("create terminal", "", err)
	}
	return t, nil
}

// SendInput delivers a prompt (or slash command) to a terminal.
func (c *Client) SendInput(ctx context.Context, terminalID, message string) error {
	q := url.Values{}
	q.Set("message", message)

	path := "/terminals/" + url.PathEscape(terminalID) + "/input"
	if err := c.postJSON(ctx, path, q, nil); err != nil {
		return errors.NewTerminalError("send input", terminalID, err)
	}
	return nil
}

// Status fetches the terminal's current lifecycle state. A missing or
// unrecognized status field maps to StatusUnknown rather than an error.
func (c *Client) Status(ctx context.Context, terminalID string) (Status, error) {
	var body struct {
		Status string `json:"status"`
	}
	path := "/terminals/" + url.PathEscape(terminalID)
	if err := c.getJSON(ctx, path, nil, &body); err != nil {
		return StatusUnknown, errors.NewTerminalError("get status", terminalID, err)
	}
	switch s := Status(body.Status); s {
	case StatusIdle, StatusProcessing, StatusCompleted, StatusWaitingUserAnswer, StatusError:
		return s, nil
	default:
		return StatusUnknown, nil
	}
}

// LastOutput returns the terminal's most recent output block. Used only as
// a fallback when file handoff is non-strict and the agent never wrote its
// response file.
func (c *Client) LastOutput(ctx context.Context, terminalID string) (string, error) {
	q := url.Values{}
	q.Set("mode", "last")

	var body struct {
		Output string `json:"output"`
	}
	path := "/terminals/" + url.PathEscape(terminalID) + "/output"
	if err := c.getJSON(ctx, path, q, &body); err != nil {
		return "", errors.NewTerminalError("get output", terminalID, err)
	}
	return body.Output, nil
}

// ExitTerminal shuts a terminal down. Failures are swallowed; exit runs
// during cleanup paths where nothing useful can be done about them.
func (c *Client) ExitTerminal(ctx context.Context, terminalID string) {
	path := "/terminals/" + url.PathEscape(terminalID) + "/exit"
	_ = c.postJSON(ctx, path, nil, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodPost, path, query, out)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrTerminalUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
