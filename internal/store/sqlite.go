package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"mailping/pkg/logx"
)

// Config locates the SQLite database file.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// SQLiteStore implements MessageStore, UserStore and JobStore over a
// single SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

// Open opens (or creates) the database, applies pragmas and runs any
// pending schema migrations.
func Open(cfg Config, log logx.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sqlx.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	telegram_chat_id INTEGER NOT NULL DEFAULT 0,
	notification_delay_minutes INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	sender_id TEXT NOT NULL REFERENCES users(id),
	recipient_id TEXT NOT NULL REFERENCES users(id),
	body TEXT NOT NULL,
	is_read INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	job_handle TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_messages_recipient_unread
	ON messages(recipient_id, is_read);

CREATE TABLE IF NOT EXISTS jobs (
	handle TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	fire_at TIMESTAMP NOT NULL,
	state TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_state_fire_at
	ON jobs(state, fire_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	if _, err := s.db.Exec(
		"CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)",
	); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var currentVersion int
	if err := s.db.Get(&currentVersion,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version",
	); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		s.log.Debug("schema migrated", logx.Int("version", m.version))
	}

	return nil
}
