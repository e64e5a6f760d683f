package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hurttlocker/eventbot/internal/event"
)

const schemaVersion = "2"

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// v2: ledger rows remember the request ID used in logs.
	if err := s.migrateRequestIDColumn(); err != nil {
		return fmt.Errorf("migrating request_id column: %w", err)
	}
	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// One row per processed chat message.
		`CREATE TABLE IF NOT EXISTS processed_messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			update_id   INTEGER,
			chat_id     INTEGER NOT NULL DEFAULT 0,
			message_id  INTEGER NOT NULL DEFAULT 0,
			source_url  TEXT NOT NULL DEFAULT '',
			outcome     TEXT NOT NULL,
			page_id     TEXT NOT NULL DEFAULT '',
			title       TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT '',
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_created ON processed_messages(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_outcome ON processed_messages(outcome)`,

		// Offline event store. seq gives the stable store order.
		`CREATE TABLE IF NOT EXISTS event_records (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT UNIQUE NOT NULL,
			properties  TEXT NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning bootstrap: %w", err)
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration: %w\nSQL: %s", err, truncate(stmt, 120))
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	value, err := s.getMetaValue(key)
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

func (s *SQLiteStore) getMetaValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// seedMeta initializes the meta table with defaults if not already set.
func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": "1",
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range defaults {
		_, err := s.db.Exec("INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// migrateRequestIDColumn adds processed_messages.request_id if missing.
func (s *SQLiteStore) migrateRequestIDColumn() error {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info('processed_messages') WHERE name='request_id'",
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking request_id column: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec("ALTER TABLE processed_messages ADD COLUMN request_id TEXT NOT NULL DEFAULT ''"); err != nil && !isDuplicateColumnError(err) {
			return err
		}
	}
	_, err = s.db.Exec("UPDATE meta SET value = ? WHERE key = 'schema_version'", schemaVersion)
	return err
}

// truncate cuts s to maxLen runes, marking the cut with "...".
func truncate(s string, maxLen int) string {
	if cut := event.Truncate(s, maxLen); cut != s {
		return cut + "..."
	}
	return s
}
