// Package session talks to a hosted browser provider. A created session
// exposes a CDP connect URL that the browser manager attaches to, plus a
// debugger URL for watching the session live.
package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultBaseURL = "https://api.browserbase.com/v1"

// CredentialsError reports missing provider configuration at construction
// time, before any network call is made.
type CredentialsError struct {
	Field string
}

func (e *CredentialsError) Error() string {
	return fmt.Sprintf("session: missing credential %s", e.Field)
}

// Session is one remote browser session.
type Session struct {
	ID         string `json:"id"`
	ConnectURL string `json:"connectUrl"`
	Status     string `json:"status"`
}

// Provider creates and resumes hosted sessions.
type Provider struct {
	apiKey    string
	projectID string
	baseURL   string
	client    *http.Client
	logger    *zap.Logger
}

type Option func(*Provider)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// NewProvider validates credentials eagerly so a misconfigured environment
// fails at startup rather than mid-pipeline.
func NewProvider(apiKey, projectID string, logger *zap.Logger, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, &CredentialsError{Field: "api key"}
	}
	if projectID == "" {
		return nil, &CredentialsError{Field: "project id"}
	}
	p := &Provider{
		apiKey:    apiKey,
		projectID: projectID,
		baseURL:   defaultBaseURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger.Named("session"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// CreateSession provisions a fresh remote browser.
func (p *Provider) CreateSession(ctx context.Context) (*Session, error) {
	body, err := json.Marshal(map[string]string{"projectId": p.projectID})
	if err != nil {
		return nil, err
	}
	var s Session
	if err := p.do(ctx, http.MethodPost, "/sessions", body, &s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	p.logger.Info("session created", zap.String("session_id", s.ID))
	return &s, nil
}

// ResumeSession re-attaches to an existing session by id.
func (p *Provider) ResumeSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := p.do(ctx, http.MethodGet, "/sessions/"+id, nil, &s); err != nil {
		return nil, fmt.Errorf("resume session %s: %w", id, err)
	}
	if s.ConnectURL == "" {
		return nil, fmt.Errorf("resume session %s: no connect url (status %s)", id, s.Status)
	}
	p.logger.Info("session resumed", zap.String("session_id", s.ID))
	return &s, nil
}

// DebugURL returns the live-view debugger link for a session.
func (p *Provider) DebugURL(ctx context.Context, id string) (string, error) {
	var out struct {
		DebuggerFullscreenURL string `json:"debuggerFullscreenUrl"`
		DebuggerURL           string `json:"debuggerUrl"`
	}
	if err := p.do(ctx, http.MethodGet, "/sessions/"+id+"/debug", nil, &out); err != nil {
		return "", fmt.Errorf("debug url for %s: %w", id, err)
	}
	if out.DebuggerFullscreenURL != "" {
		return out.DebuggerFullscreenURL, nil
	}
	return out.DebuggerURL, nil
}

func (p *Provider) do(ctx context.Context, method, path string, body []byte, dest any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-BB-API-Key", p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(payload))
	}
	return json.Unmarshal(payload, dest)
}
