package notify

import (
	"log/slog"
	"sync"
	"time"
)

// MCPSender abstracts the mcp-go server notification methods.
// Defined consumer-side per Go convention.
type MCPSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
	SendNotificationToAllClients(method string, params map[string]any)
}

// MCPNotifier pushes tunnel updates to connected MCP clients.
type MCPNotifier struct {
	sender   MCPSender
	debounce time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time // sessionID → last stats notification time
}

// NewMCPNotifier creates an MCPNotifier with the given debounce interval
// for stats events. Lifecycle events are always sent immediately.
func NewMCPNotifier(sender MCPSender, debounce time.Duration) *MCPNotifier {
	if debounce <= 0 {
		debounce = 30 * time.Second
	}
	return &MCPNotifier{
		sender:   sender,
		debounce: debounce,
		lastSent: make(map[string]time.Time),
	}
}

// Notify sends an MCP notification for the given event.
func (n *MCPNotifier) Notify(event Event) {
	switch event.Type {
	case EventStats:
		n.sendStats(event)
	case EventStarted:
		n.sendMessage(event, "info")
	case EventStopped:
		n.clearDebounce(event.SessionID)
		n.sendMessage(event, "info")
	case EventExited:
		n.clearDebounce(event.SessionID)
		n.sendMessage(event, "error")
	case EventFailed:
		n.clearDebounce(event.SessionID)
		n.sendMessage(event, "warning")
	default:
		slog.Debug("mcp notifier: unknown event type", "type", event.Type)
	}
}

// sendStats sends a debounced notifications/message at debug level.
func (n *MCPNotifier) sendStats(event Event) {
	n.mu.Lock()
	last, ok := n.lastSent[event.SessionID]
	if ok && time.Since(last) < n.debounce {
		n.mu.Unlock()
		return
	}
	n.lastSent[event.SessionID] = time.Now()
	n.mu.Unlock()

	n.sendMessage(event, "debug")
}

func (n *MCPNotifier) sendMessage(event Event, level string) {
	params := map[string]any{
		"level":  level,
		"logger": "burrow",
		"data": map[string]any{
			"type":       event.Type,
			"session_id": event.SessionID,
			"port":       event.Port,
			"url":        event.URL,
			"message":    event.Message,
		},
	}

	n.send(event.MCPSessionID, "notifications/message", params)
}

// send dispatches to a specific client or broadcasts.
func (n *MCPNotifier) send(mcpSessionID, method string, params map[string]any) {
	if mcpSessionID != "" {
		if err := n.sender.SendNotificationToSpecificClient(mcpSessionID, method, params); err != nil {
			slog.Debug("mcp notification failed, falling back to broadcast",
				"session_id", mcpSessionID,
				"method", method,
				"error", err)
			n.sender.SendNotificationToAllClients(method, params)
		}
		return
	}
	n.sender.SendNotificationToAllClients(method, params)
}

// clearDebounce removes the debounce entry for a finished session.
func (n *MCPNotifier) clearDebounce(sessionID string) {
	n.mu.Lock()
	delete(n.lastSent, sessionID)
	n.mu.Unlock()
}
