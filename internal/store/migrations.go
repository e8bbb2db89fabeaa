package store

// migrations are applied in order; each index+1 is recorded in schema_version.
var migrations = []string{
	`CREATE TABLE sessions (
		id         TEXT PRIMARY KEY,
		protocol   TEXT NOT NULL,
		port       INTEGER NOT NULL,
		http_url   TEXT NOT NULL DEFAULT '',
		https_url  TEXT NOT NULL DEFAULT '',
		pid        INTEGER NOT NULL DEFAULT 0,
		status     TEXT NOT NULL,
		error      TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		ended_at   TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX idx_sessions_started_at ON sessions(started_at);
	CREATE INDEX idx_sessions_status ON sessions(status);

	CREATE TABLE session_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		message    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX idx_session_events_session ON session_events(session_id);`,

	`ALTER TABLE sessions ADD COLUMN exit_code INTEGER NOT NULL DEFAULT 0;`,
}
