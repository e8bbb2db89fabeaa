package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes events to a slog.Logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(event Event) {
	level := slog.LevelInfo
	switch event.Type {
	case EventStats:
		level = slog.LevelDebug
	case EventExited:
		level = slog.LevelError
	case EventFailed:
		level = slog.LevelWarn
	}

	n.logger.Log(context.Background(), level, "tunnel event",
		"type", event.Type,
		"session_id", event.SessionID,
		"port", event.Port,
		"url", event.URL,
		"message", event.Message)
}
