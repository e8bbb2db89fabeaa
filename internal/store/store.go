package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface for tunnel session history.
// Defined at the consumer side per Go conventions.
type Store interface {
	// Sessions
	CreateSession(s *SessionRecord) error
	GetSession(id string) (*SessionRecord, error)
	UpdateSession(s *SessionRecord) error
	ListSessions(f SessionFilter) ([]SessionRecord, error)

	// Session events
	AddEvent(e *SessionEvent) error
	GetEvents(sessionID string, limit int) ([]SessionEvent, error)

	// Maintenance
	Cleanup(olderThan time.Duration) (int64, error)
	Close() error
}

// Session statuses as persisted.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusExited   = "exited"
	StatusFailed   = "failed"
)

// SessionRecord represents one persisted tunnel run.
type SessionRecord struct {
	ID        string
	Protocol  string
	Port      int
	HTTPURL   string
	HTTPSURL  string
	PID       int
	Status    string
	Error     string
	ExitCode  int
	StartedAt time.Time
	EndedAt   time.Time
}

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	Status string
	Port   int
	Limit  int
	Since  time.Time
}

// SessionEvent is a timestamped lifecycle event for a session.
type SessionEvent struct {
	ID        int64
	SessionID string
	EventType string
	Message   string
	CreatedAt time.Time
}
