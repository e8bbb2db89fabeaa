package notify

import (
	"log/slog"

	"github.com/btouchard/burrow/internal/store"
)

// EventRecorder is the subset of store.Store the StoreNotifier needs.
type EventRecorder interface {
	AddEvent(e *store.SessionEvent) error
}

// StoreNotifier persists lifecycle events as session history. Stats events
// are not recorded.
type StoreNotifier struct {
	recorder EventRecorder
}

func NewStoreNotifier(recorder EventRecorder) *StoreNotifier {
	return &StoreNotifier{recorder: recorder}
}

func (n *StoreNotifier) Notify(event Event) {
	if event.Type == EventStats || event.SessionID == "" {
		return
	}

	msg := event.Message
	if msg == "" {
		msg = event.URL
	}

	err := n.recorder.AddEvent(&store.SessionEvent{
		SessionID: event.SessionID,
		EventType: event.Type,
		Message:   msg,
		CreatedAt: event.At,
	})
	if err != nil {
		slog.Warn("failed to record tunnel event",
			"session_id", event.SessionID,
			"type", event.Type,
			"error", err)
	}
}
