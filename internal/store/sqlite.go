package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, zero CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// The database file is created with 0600 permissions and its parent directory with 0700.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := prepareFile(path); err != nil {
			return nil, err
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func prepareFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600) //nolint:gosec // path comes from config
		if err != nil {
			return fmt.Errorf("creating database file: %w", err)
		}
		_ = f.Close()
	case err != nil:
		return fmt.Errorf("checking database file: %w", err)
	case info.Mode().Perm()&0077 != 0:
		slog.Warn("tightening database file permissions", "path", path, "mode", info.Mode().Perm().String())
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("fixing database permissions: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	// Ensure schema_version table exists
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		slog.Debug("applying migration", "version", i+1)
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sessions ---

const sessionColumns = "id, protocol, port, http_url, https_url, pid, status, error, exit_code, started_at, ended_at"

func (s *SQLiteStore) CreateSession(r *SessionRecord) error {
	_, err := s.db.Exec(`INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Protocol, r.Port, r.HTTPURL, r.HTTPSURL, r.PID, r.Status, r.Error, r.ExitCode,
		formatTime(r.StartedAt), formatTime(r.EndedAt))
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(id string) (*SessionRecord, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return r, err
}

func (s *SQLiteStore) UpdateSession(r *SessionRecord) error {
	res, err := s.db.Exec(`UPDATE sessions SET
		http_url = ?, https_url = ?, pid = ?, status = ?, error = ?, exit_code = ?, ended_at = ?
		WHERE id = ?`,
		r.HTTPURL, r.HTTPSURL, r.PID, r.Status, r.Error, r.ExitCode, formatTime(r.EndedAt),
		r.ID)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("updating session %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListSessions(f SessionFilter) ([]SessionRecord, error) {
	query := "SELECT " + sessionColumns + " FROM sessions WHERE 1=1"
	var args []any

	if f.Status != "" && f.Status != "all" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Port > 0 {
		query += " AND port = ?"
		args = append(args, f.Port)
	}
	if !f.Since.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, formatTime(f.Since))
	}

	query += " ORDER BY started_at DESC, rowid DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *r)
	}
	return sessions, rows.Err()
}

// --- Session Events ---

func (s *SQLiteStore) AddEvent(e *SessionEvent) error {
	res, err := s.db.Exec(`INSERT INTO session_events (session_id, event_type, message, created_at) VALUES (?, ?, ?, ?)`,
		e.SessionID, e.EventType, e.Message, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("adding event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (s *SQLiteStore) GetEvents(sessionID string, limit int) ([]SessionEvent, error) {
	query := "SELECT id, session_id, event_type, message, created_at FROM session_events WHERE session_id = ? ORDER BY created_at DESC, id DESC"
	args := []any{sessionID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("getting events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		var createdAt string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Maintenance ---

// Cleanup deletes finished sessions, and their events, that started more
// than olderThan ago. Sessions still marked running are kept.
func (s *SQLiteStore) Cleanup(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	finished := "status NOT IN ('" + StatusStarting + "', '" + StatusRunning + "')"

	if _, err := s.db.Exec(`DELETE FROM session_events WHERE session_id IN
		(SELECT id FROM sessions WHERE started_at < ? AND `+finished+`)`, cutoff); err != nil {
		return 0, fmt.Errorf("cleaning events: %w", err)
	}

	res, err := s.db.Exec("DELETE FROM sessions WHERE started_at < ? AND "+finished, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info("cleaned up old sessions", "count", n, "older_than", olderThan)
	}
	return n, nil
}

// --- Helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*SessionRecord, error) {
	var r SessionRecord
	var startedAt, endedAt string

	err := row.Scan(&r.ID, &r.Protocol, &r.Port, &r.HTTPURL, &r.HTTPSURL, &r.PID,
		&r.Status, &r.Error, &r.ExitCode, &startedAt, &endedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	r.StartedAt = parseTime(startedAt)
	r.EndedAt = parseTime(endedAt)

	return &r, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeFormat, s)
	return t
}
