package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite connection shared by the repositories.
type Store struct {
	db *sql.DB
}

// Open establishes the SQLite connection for the given DSN.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	// SQLite handles a single writer; a bounded pool avoids lock churn.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the raw handle for repositories.
func (s *Store) DB() *sql.DB {
	return s.db
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                TEXT PRIMARY KEY,
	display_name      TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'ONLINE',
	room_id           TEXT,
	group_id          TEXT,
	cuisines          TEXT NOT NULL DEFAULT '[]',
	budget            REAL NOT NULL DEFAULT 0,
	radius_km         REAL NOT NULL DEFAULT 0,
	latitude          REAL,
	longitude         REAL,
	push_token        TEXT,
	credibility_score INTEGER NOT NULL DEFAULT 100,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS credibility_logs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id        TEXT NOT NULL,
	action         TEXT NOT NULL,
	score_change   INTEGER NOT NULL,
	group_id       TEXT,
	room_id        TEXT,
	previous_score INTEGER NOT NULL,
	new_score      INTEGER NOT NULL,
	notes          TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credibility_logs_user ON credibility_logs (user_id, id);

CREATE TABLE IF NOT EXISTS rooms (
	id                TEXT PRIMARY KEY,
	status            TEXT NOT NULL DEFAULT 'WAITING',
	members           TEXT NOT NULL DEFAULT '[]',
	max_members       INTEGER NOT NULL CHECK (max_members > 0),
	completion_time   TEXT NOT NULL,
	cuisines          TEXT NOT NULL DEFAULT '[]',
	average_budget    REAL NOT NULL DEFAULT 0,
	average_radius    REAL NOT NULL DEFAULT 0,
	average_latitude  REAL,
	average_longitude REAL,
	version           INTEGER NOT NULL DEFAULT 1,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rooms_status_deadline ON rooms (status, completion_time);

CREATE TABLE IF NOT EXISTS groups (
	id                  TEXT PRIMARY KEY,
	room_id             TEXT NOT NULL,
	members             TEXT NOT NULL DEFAULT '[]',
	completion_time     TEXT NOT NULL,
	restaurant_selected INTEGER NOT NULL DEFAULT 0,
	restaurant          TEXT,
	voting_mode         TEXT NOT NULL DEFAULT 'sequential',
	restaurant_pool     TEXT NOT NULL DEFAULT '[]',
	voting_history      TEXT NOT NULL DEFAULT '[]',
	history_detailed    TEXT NOT NULL DEFAULT '[]',
	current_round       TEXT,
	max_rounds          INTEGER NOT NULL DEFAULT 15,
	voting_timeout      INTEGER NOT NULL DEFAULT 90,
	list_votes          TEXT NOT NULL DEFAULT '{}',
	restaurant_votes    TEXT NOT NULL DEFAULT '{}',
	cuisines            TEXT NOT NULL DEFAULT '[]',
	average_budget      REAL NOT NULL DEFAULT 0,
	average_radius      REAL NOT NULL DEFAULT 0,
	average_latitude    REAL,
	average_longitude   REAL,
	version             INTEGER NOT NULL DEFAULT 1,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_groups_selected_deadline ON groups (restaurant_selected, completion_time);
`

// Migrate applies the schema. The statements are idempotent so Migrate is
// safe to run on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return nil
}

// --- shared column helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func marshalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode column: %w", err)
	}
	return string(raw), nil
}

func unmarshalJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("sqlite: decode column: %w", err)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
