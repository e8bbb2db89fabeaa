// Package session tracks tunnel runs: it records them in the store, publishes
// their lifecycle through the notify hub and watches their health.
package session

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/btouchard/burrow/internal/discovery"
	"github.com/btouchard/burrow/internal/notify"
	"github.com/btouchard/burrow/internal/procstat"
	"github.com/btouchard/burrow/internal/store"
	"github.com/btouchard/burrow/internal/supervisor"
	"github.com/btouchard/burrow/internal/tunnel"
)

// Handle is the part of *tunnel.Tunnel a Session drives.
type Handle interface {
	Close() error
	PID() int
	Port() uint16
	Protocol() tunnel.Protocol
	Record() discovery.Record
	Outcome() (supervisor.Outcome, bool)
}

// Recorder persists session rows.
type Recorder interface {
	CreateSession(s *store.SessionRecord) error
	UpdateSession(s *store.SessionRecord) error
}

// Session is one live tunnel run.
type Session struct {
	id        string
	handle    Handle
	startedAt time.Time

	recorder Recorder
	notifier notify.Notifier
	onEnd    func(id string)

	mu     sync.Mutex
	record store.SessionRecord
	ended  bool
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID        string    `json:"id"`
	Protocol  string    `json:"protocol"`
	Port      int       `json:"port"`
	HTTPURL   string    `json:"http_url,omitempty"`
	HTTPSURL  string    `json:"https_url,omitempty"`
	PID       int       `json:"pid"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
}

func (s *Session) ID() string { return s.id }

// Handle returns the underlying tunnel handle.
func (s *Session) Handle() Handle { return s.handle }

func (s *Session) StartedAt() time.Time { return s.startedAt }

// Snapshot reports the session, refreshing its status from the handle.
func (s *Session) Snapshot() Snapshot {
	s.observe()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:        s.id,
		Protocol:  s.record.Protocol,
		Port:      s.record.Port,
		HTTPURL:   s.record.HTTPURL,
		HTTPSURL:  s.record.HTTPSURL,
		PID:       s.record.PID,
		Status:    s.record.Status,
		Error:     s.record.Error,
		StartedAt: s.startedAt,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
	}
}

// Monitor polls the tunnel's status every interval until the tunnel ends or
// ctx is done. It returns the process error when the tunnel dies on its own,
// nil when it was closed and ctx.Err() when ctx ends first.
func (s *Session) Monitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if out, ok := s.handle.Outcome(); ok {
			s.observe()
			return out.Err
		}
		s.publishStats()
	}
}

// Close stops the tunnel and records how the session ended.
func (s *Session) Close() error {
	err := s.handle.Close()
	s.observe()
	return err
}

func (s *Session) publishStats() {
	st, err := procstat.Sample(s.handle.PID())
	if err != nil {
		slog.Debug("sampling tunnel process failed", "session_id", s.id, "error", err)
		return
	}
	s.notifier.Notify(notify.Event{
		Type:      notify.EventStats,
		SessionID: s.id,
		Port:      int(s.handle.Port()),
		Message:   formatStats(st),
	})
}

// observe finalizes the session once the handle reports an outcome.
func (s *Session) observe() {
	out, ok := s.handle.Outcome()
	if !ok {
		return
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true

	event := notify.Event{
		SessionID: s.id,
		Port:      s.record.Port,
		At:        out.At,
	}
	s.record.EndedAt = out.At
	s.record.ExitCode = out.ExitCode
	if out.State == supervisor.StateStoppedByCaller && out.Err == nil {
		s.record.Status = store.StatusStopped
		event.Type = notify.EventStopped
		event.Message = "tunnel closed"
	} else {
		s.record.Status = store.StatusExited
		event.Type = notify.EventExited
		if out.Err != nil {
			s.record.Error = out.Err.Error()
		}
		event.Message = s.record.Error
	}
	rec := s.record
	s.mu.Unlock()

	if err := s.recorder.UpdateSession(&rec); err != nil {
		slog.Warn("failed to record session end", "session_id", s.id, "error", err)
	}
	s.notifier.Notify(event)
	if s.onEnd != nil {
		s.onEnd(s.id)
	}
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}
