// Package api serves the local status API of a running burrow.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/btouchard/burrow/internal/config"
	"github.com/btouchard/burrow/internal/procstat"
	"github.com/btouchard/burrow/internal/session"
	"github.com/btouchard/burrow/internal/store"
)

// SessionLister reports live sessions.
type SessionLister interface {
	Active() []session.Snapshot
}

// History reads recorded sessions.
type History interface {
	ListSessions(f store.SessionFilter) ([]store.SessionRecord, error)
	GetSession(id string) (*store.SessionRecord, error)
	GetEvents(sessionID string, limit int) ([]store.SessionEvent, error)
}

// Deps holds what the router serves.
type Deps struct {
	Sessions  SessionLister
	History   History
	MCP       http.Handler
	RateLimit config.RateLimitConfig
	Version   string
}

// LiveStatus is one entry of GET /status.
type LiveStatus struct {
	session.Snapshot
	Process *procstat.Stats `json:"process,omitempty"`
}

// SessionView is a recorded session as served over HTTP.
type SessionView struct {
	ID        string      `json:"id"`
	Protocol  string      `json:"protocol"`
	Port      int         `json:"port"`
	HTTPURL   string      `json:"http_url,omitempty"`
	HTTPSURL  string      `json:"https_url,omitempty"`
	PID       int         `json:"pid"`
	Status    string      `json:"status"`
	Error     string      `json:"error,omitempty"`
	ExitCode  int         `json:"exit_code"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	Events    []EventView `json:"events,omitempty"`
}

type EventView struct {
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRouter builds the HTTP handler for the status API.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": d.Version})
	})

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(d.RateLimit))

		r.Get("/status", handleStatus(d.Sessions))
		r.Get("/sessions", handleListSessions(d.History))
		r.Get("/sessions/{id}", handleGetSession(d.History))

		if d.MCP != nil {
			r.Handle("/mcp", d.MCP)
		}
	})

	return r
}

func handleStatus(sessions SessionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snaps := sessions.Active()
		out := make([]LiveStatus, 0, len(snaps))
		for _, s := range snaps {
			ls := LiveStatus{Snapshot: s}
			if st, err := procstat.Sample(s.PID); err == nil {
				ls.Process = &st
			}
			out = append(out, ls)
		}
		writeJSON(w, http.StatusOK, map[string]any{"tunnels": out})
	}
}

func handleListSessions(history History) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := store.SessionFilter{
			Status: r.URL.Query().Get("status"),
			Limit:  20,
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			f.Limit = min(n, 500)
		}
		if v := r.URL.Query().Get("port"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 65535 {
				writeError(w, http.StatusBadRequest, "port must be between 1 and 65535")
				return
			}
			f.Port = n
		}

		recs, err := history.ListSessions(f)
		if err != nil {
			slog.Error("listing sessions failed", "error", err)
			writeError(w, http.StatusInternalServerError, "listing sessions failed")
			return
		}

		views := make([]SessionView, 0, len(recs))
		for i := range recs {
			views = append(views, toView(&recs[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
	}
}

func handleGetSession(history History) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := history.GetSession(id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		if err != nil {
			slog.Error("reading session failed", "session_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "reading session failed")
			return
		}

		view := toView(rec)
		events, err := history.GetEvents(id, 100)
		if err != nil {
			slog.Warn("reading session events failed", "session_id", id, "error", err)
		}
		for _, e := range events {
			view.Events = append(view.Events, EventView{Type: e.EventType, Message: e.Message, CreatedAt: e.CreatedAt})
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func toView(rec *store.SessionRecord) SessionView {
	v := SessionView{
		ID:        rec.ID,
		Protocol:  rec.Protocol,
		Port:      rec.Port,
		HTTPURL:   rec.HTTPURL,
		HTTPSURL:  rec.HTTPSURL,
		PID:       rec.PID,
		Status:    rec.Status,
		Error:     rec.Error,
		ExitCode:  rec.ExitCode,
		StartedAt: rec.StartedAt,
	}
	if !rec.EndedAt.IsZero() {
		ended := rec.EndedAt
		v.EndedAt = &ended
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
