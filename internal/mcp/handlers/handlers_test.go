package handlers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/burrow/internal/session"
	"github.com/btouchard/burrow/internal/store"
)

func makeReq(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	return res.Content[0].(mcp.TextContent).Text
}

type staticSessions []session.Snapshot

func (s staticSessions) Active() []session.Snapshot { return s }

func newTestHistory(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// --- TunnelStatus tests ---

func TestTunnelStatus_WhenNoTunnel_SaysSo(t *testing.T) {
	t.Parallel()

	res, err := TunnelStatus(staticSessions{})(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "No tunnel is running")
}

func TestTunnelStatus_ShowsURLsAndProcess(t *testing.T) {
	t.Parallel()

	sessions := staticSessions{{
		ID:       "s1",
		Protocol: "https",
		Port:     3030,
		HTTPURL:  "http://abc.ngrok.io",
		HTTPSURL: "https://abc.ngrok.io",
		PID:      os.Getpid(),
		Status:   store.StatusRunning,
		Uptime:   "1m0s",
	}}

	res, err := TunnelStatus(sessions)(context.Background(), makeReq(nil))
	require.NoError(t, err)

	text := resultText(t, res)
	assert.Contains(t, text, "1 live")
	assert.Contains(t, text, "https://abc.ngrok.io")
	assert.Contains(t, text, "http://abc.ngrok.io")
	assert.Contains(t, text, "Uptime: 1m0s")
	assert.Contains(t, text, "Memory:")
}

// --- ListSessions tests ---

func TestListSessions_WhenEmpty_SaysNoneFound(t *testing.T) {
	t.Parallel()

	res, err := ListSessions(newTestHistory(t))(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "No sessions found")
}

func TestListSessions_FiltersByStatusAndPort(t *testing.T) {
	t.Parallel()

	h := newTestHistory(t)
	now := time.Now()
	require.NoError(t, h.CreateSession(&store.SessionRecord{ID: "keep", Protocol: "http", Port: 3030, HTTPURL: "http://keep.ngrok.io", Status: store.StatusExited, Error: "exit code 1", StartedAt: now.Add(-time.Minute), EndedAt: now}))
	require.NoError(t, h.CreateSession(&store.SessionRecord{ID: "other-port", Protocol: "http", Port: 9999, Status: store.StatusExited, StartedAt: now}))
	require.NoError(t, h.CreateSession(&store.SessionRecord{ID: "other-status", Protocol: "http", Port: 3030, Status: store.StatusStopped, StartedAt: now}))

	res, err := ListSessions(h)(context.Background(), makeReq(map[string]any{
		"status": "exited",
		"port":   float64(3030),
	}))
	require.NoError(t, err)

	text := resultText(t, res)
	assert.Contains(t, text, "1 found")
	assert.Contains(t, text, "keep")
	assert.Contains(t, text, "http://keep.ngrok.io")
	assert.Contains(t, text, "Duration: 1m0s")
	assert.Contains(t, text, "Error: exit code 1")
	assert.NotContains(t, text, "other-port")
	assert.NotContains(t, text, "other-status")
}

func TestListSessions_WhenSinceInvalid_ReturnsError(t *testing.T) {
	t.Parallel()

	res, err := ListSessions(newTestHistory(t))(context.Background(), makeReq(map[string]any{
		"since": "yesterday",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "RFC 3339")
}

// --- GetSession tests ---

func TestGetSession_WhenMissingID_ReturnsError(t *testing.T) {
	t.Parallel()

	res, err := GetSession(newTestHistory(t))(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "session_id is required")
}

func TestGetSession_WhenNotFound_ReturnsError(t *testing.T) {
	t.Parallel()

	res, err := GetSession(newTestHistory(t))(context.Background(), makeReq(map[string]any{
		"session_id": "nope",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "not found")
}

func TestGetSession_ShowsDetailsAndEvents(t *testing.T) {
	t.Parallel()

	h := newTestHistory(t)
	now := time.Now()
	require.NoError(t, h.CreateSession(&store.SessionRecord{ID: "s1", Protocol: "https", Port: 3030, HTTPSURL: "https://s1.ngrok.io", PID: 77, Status: store.StatusStopped, StartedAt: now, EndedAt: now}))
	require.NoError(t, h.AddEvent(&store.SessionEvent{SessionID: "s1", EventType: "tunnel.started", Message: "https://s1.ngrok.io", CreatedAt: now}))

	res, err := GetSession(h)(context.Background(), makeReq(map[string]any{"session_id": "s1"}))
	require.NoError(t, err)

	text := resultText(t, res)
	assert.Contains(t, text, "stopped")
	assert.Contains(t, text, "**HTTPS:** https://s1.ngrok.io")
	assert.Contains(t, text, "**PID:** 77")
	assert.Contains(t, text, "tunnel.started")
}
