package notify

import (
	"sync"
	"time"
)

// Tunnel lifecycle event types.
const (
	EventStarted = "tunnel.started"
	EventStats   = "tunnel.stats"
	EventStopped = "tunnel.stopped"
	EventExited  = "tunnel.exited"
	EventFailed  = "tunnel.failed"
)

// Event represents a tunnel lifecycle notification.
type Event struct {
	Type      string
	SessionID string
	Port      int
	URL       string
	Message   string
	At        time.Time

	// MCPSessionID targets a specific MCP client session.
	// Empty means broadcast to all.
	MCPSessionID string
}

// Terminal reports whether the event ends a session.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventStopped, EventExited, EventFailed:
		return true
	}
	return false
}

// Notifier sends tunnel lifecycle notifications.
type Notifier interface {
	Notify(event Event)
}

// Hub dispatches events to multiple notifiers.
type Hub struct {
	mu        sync.RWMutex
	notifiers []Notifier
	inflight  sync.WaitGroup
}

// NewHub creates a Hub with the given notifiers.
func NewHub(notifiers ...Notifier) *Hub {
	return &Hub{notifiers: notifiers}
}

// Add registers another notifier.
func (h *Hub) Add(n Notifier) {
	h.mu.Lock()
	h.notifiers = append(h.notifiers, n)
	h.mu.Unlock()
}

// Notify sends an event to all registered notifiers.
func (h *Hub) Notify(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, n := range h.notifiers {
		h.inflight.Go(func() { n.Notify(event) })
	}
}

// Wait blocks until every dispatched notification has been handled.
func (h *Hub) Wait() {
	h.inflight.Wait()
}
