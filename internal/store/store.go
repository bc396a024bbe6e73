package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Store is the durable log of messages, chat summaries, interaction audit
// rows, and image alt text. It owns all persisted entities exclusively.
//
// A Store never fails its callers: if the database cannot be opened or the
// schema cannot be applied, the Store runs degraded: reads return empty
// results, low-level writes are dropped, and LogExchange falls back to an
// append-only JSONL file so no interaction is ever fully lost.
type Store struct {
	db           *sql.DB // nil when degraded
	fallbackPath string
	log          *logrus.Entry

	// mu serializes writers; reads proceed concurrently.
	mu sync.Mutex
}

// Open opens (or creates) the SQLite database at path and applies the schema
// idempotently. Open never returns an error; failures yield a degraded Store.
func Open(path, fallbackPath string, logger *logrus.Logger) *Store {
	entry := logger.WithField("component", "store")
	s := &Store{fallbackPath: fallbackPath, log: entry}

	db, err := openDB(path)
	if err != nil {
		entry.WithError(err).Error("failed to open database, running degraded")
		return s
	}
	if err := initSchema(db); err != nil {
		entry.WithError(err).Error("failed to apply schema, running degraded")
		db.Close()
		return s
	}

	s.db = db
	entry.Info("connected to database and applied schema")
	return s
}

// Degraded reports whether the structured store is unavailable.
func (s *Store) Degraded() bool {
	return s.db == nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func openDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id TEXT NOT NULL,
			guild_id TEXT,
			user_id TEXT NOT NULL,
			persona_name TEXT,
			content TEXT NOT NULL,
			is_assistant BOOLEAN NOT NULL DEFAULT 0,
			emotion TEXT,
			parent_message_id INTEGER,
			timestamp TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_channel_timestamp ON messages(channel_id, timestamp);

		CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			requested_at INTEGER NOT NULL,
			received_at INTEGER NOT NULL,
			request TEXT,
			response TEXT,
			status_code INTEGER,
			tags TEXT
		);

		CREATE TABLE IF NOT EXISTS chat_summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id TEXT NOT NULL,
			start_timestamp TEXT NOT NULL,
			end_timestamp TEXT NOT NULL,
			summary TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_summaries_channel_end ON chat_summaries(channel_id, end_timestamp);

		CREATE TABLE IF NOT EXISTS image_alt_text (
			message_id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			alt_text TEXT NOT NULL,
			attachment_url TEXT
		);
	`)
	return err
}
