package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProviderValidatesCredentials(t *testing.T) {
	_, err := NewProvider("", "proj-1", zap.NewNop())
	var cerr *CredentialsError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "api key", cerr.Field)

	_, err = NewProvider("key-1", "", zap.NewNop())
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "project id", cerr.Field)
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewProvider("key-1", "proj-1", zap.NewNop(), WithBaseURL(srv.URL))
	require.NoError(t, err)
	return p
}

func TestCreateSession(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sessions", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("X-BB-API-Key"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "proj-1", body["projectId"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sess-1","connectUrl":"ws://remote/devtools","status":"RUNNING"}`))
	})

	s, err := p.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", s.ID)
	assert.Equal(t, "ws://remote/devtools", s.ConnectURL)
}

func TestResumeSession(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/sessions/sess-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"sess-1","connectUrl":"ws://remote/devtools","status":"RUNNING"}`))
	})

	s, err := p.ResumeSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "ws://remote/devtools", s.ConnectURL)
}

func TestResumeSessionWithoutConnectURL(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"sess-1","status":"COMPLETED"}`))
	})

	_, err := p.ResumeSession(context.Background(), "sess-1")
	assert.ErrorContains(t, err, "no connect url")
}

func TestDebugURLPrefersFullscreen(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/sess-1/debug", r.URL.Path)
		_, _ = w.Write([]byte(`{"debuggerFullscreenUrl":"https://live/full","debuggerUrl":"https://live/small"}`))
	})

	u, err := p.DebugURL(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "https://live/full", u)
}

func TestProviderErrorStatus(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"no such session"}`, http.StatusNotFound)
	})

	_, err := p.ResumeSession(context.Background(), "gone")
	assert.ErrorContains(t, err, "404")
}
