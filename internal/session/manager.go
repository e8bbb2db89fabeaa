package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/btouchard/burrow/internal/notify"
	"github.com/btouchard/burrow/internal/procstat"
	"github.com/btouchard/burrow/internal/store"
	"github.com/btouchard/burrow/internal/tunnel"
)

// Manager launches tunnels and keeps the sessions that are still live.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	recorder Recorder
	notifier notify.Notifier
}

// NewManager creates a Manager. A nil notifier discards events.
func NewManager(recorder Recorder, notifier notify.Notifier) *Manager {
	if notifier == nil {
		notifier = notify.NewHub()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		recorder: recorder,
		notifier: notifier,
	}
}

// Launch runs b and tracks the resulting tunnel as a new session. A failed
// run is still recorded, as a failed session.
func (m *Manager) Launch(ctx context.Context, b *tunnel.Builder) (*Session, error) {
	id := uuid.NewString()
	protocol, port := b.Target()

	rec := store.SessionRecord{
		ID:        id,
		Protocol:  string(protocol),
		Port:      int(port),
		Status:    store.StatusStarting,
		StartedAt: time.Now(),
	}
	if err := m.recorder.CreateSession(&rec); err != nil {
		slog.Warn("failed to record session start", "session_id", id, "error", err)
	}

	t, err := b.Run(ctx)
	if err != nil {
		rec.Status = store.StatusFailed
		rec.Error = err.Error()
		rec.EndedAt = time.Now()
		if uerr := m.recorder.UpdateSession(&rec); uerr != nil {
			slog.Warn("failed to record session failure", "session_id", id, "error", uerr)
		}
		m.notifier.Notify(notify.Event{
			Type:      notify.EventFailed,
			SessionID: id,
			Port:      int(port),
			Message:   err.Error(),
		})
		return nil, err
	}

	return m.attach(id, rec.StartedAt, t), nil
}

// Attach tracks an already running handle as a new session.
func (m *Manager) Attach(h Handle) *Session {
	id := uuid.NewString()
	rec := store.SessionRecord{
		ID:        id,
		Protocol:  string(h.Protocol()),
		Port:      int(h.Port()),
		Status:    store.StatusStarting,
		StartedAt: time.Now(),
	}
	if err := m.recorder.CreateSession(&rec); err != nil {
		slog.Warn("failed to record session start", "session_id", id, "error", err)
	}
	return m.attach(id, rec.StartedAt, h)
}

func (m *Manager) attach(id string, startedAt time.Time, h Handle) *Session {
	r := h.Record()
	s := &Session{
		id:        id,
		handle:    h,
		startedAt: startedAt,
		recorder:  m.recorder,
		notifier:  m.notifier,
		onEnd:     m.forget,
		record: store.SessionRecord{
			ID:        id,
			Protocol:  string(h.Protocol()),
			Port:      int(h.Port()),
			HTTPURL:   urlString(r.HTTP),
			HTTPSURL:  urlString(r.HTTPS),
			PID:       h.PID(),
			Status:    store.StatusRunning,
			StartedAt: startedAt,
		},
	}

	rec := s.record
	if err := m.recorder.UpdateSession(&rec); err != nil {
		slog.Warn("failed to record running session", "session_id", id, "error", err)
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	publicURL := rec.HTTPSURL
	if publicURL == "" {
		publicURL = rec.HTTPURL
	}
	m.notifier.Notify(notify.Event{
		Type:      notify.EventStarted,
		SessionID: id,
		Port:      rec.Port,
		URL:       publicURL,
	})

	// The handle may have died between Run and registration.
	s.observe()
	return s
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Active returns snapshots of every live session, newest first.
func (m *Manager) Active() []Snapshot {
	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(live))
	for _, s := range live {
		snaps = append(snaps, s.Snapshot())
	}
	slices.SortFunc(snaps, func(a, b Snapshot) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return snaps
}

// CloseAll stops every live session.
func (m *Manager) CloseAll() error {
	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.RUnlock()

	var errs []string
	for _, s := range live {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.id, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing sessions: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func formatStats(st procstat.Stats) string {
	return fmt.Sprintf("rss=%s cpu=%.1f%% threads=%d",
		humanize.IBytes(st.RSSBytes), st.CPUPercent, st.Threads)
}
