package store

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const offsetKey = "telegram_update_offset"

// ProcessedMessage is one ledger row.
type ProcessedMessage struct {
	ID        int64
	RequestID string
	UpdateID  int64
	ChatID    int64
	MessageID int64
	SourceURL string
	Outcome   string
	PageID    string
	Title     string
	Error     string
	CreatedAt time.Time
}

// LastUpdateID returns the highest Telegram update_id already handled, or 0.
func (s *SQLiteStore) LastUpdateID(ctx context.Context) (int64, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", offsetKey).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading update offset: %w", err)
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing update offset %q: %w", value, err)
	}
	return id, nil
}

// SetLastUpdateID records id as handled. Lower values never move it back.
func (s *SQLiteStore) SetLastUpdateID(ctx context.Context, id int64) error {
	current, err := s.LastUpdateID(ctx)
	if err != nil {
		return err
	}
	if id <= current {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		offsetKey, strconv.FormatInt(id, 10),
	)
	if err != nil {
		return fmt.Errorf("saving update offset: %w", err)
	}
	return nil
}

// RecordMessage appends m to the ledger and sets its ID.
func (s *SQLiteStore) RecordMessage(ctx context.Context, m *ProcessedMessage) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_messages
			(request_id, update_id, chat_id, message_id, source_url, outcome, page_id, title, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RequestID, m.UpdateID, m.ChatID, m.MessageID, m.SourceURL,
		m.Outcome, m.PageID, truncate(m.Title, 200), truncate(m.Error, 500),
	)
	if err != nil {
		return fmt.Errorf("recording message: %w", err)
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

// RecentMessages returns up to limit ledger rows, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, limit int) ([]ProcessedMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, COALESCE(update_id, 0), chat_id, message_id, source_url,
		        outcome, page_id, title, error, created_at
		 FROM processed_messages ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []ProcessedMessage
	for rows.Next() {
		var m ProcessedMessage
		if err := rows.Scan(&m.ID, &m.RequestID, &m.UpdateID, &m.ChatID, &m.MessageID, &m.SourceURL,
			&m.Outcome, &m.PageID, &m.Title, &m.Error, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// OutcomeCounts returns the number of ledger rows per outcome.
func (s *SQLiteStore) OutcomeCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT outcome, COUNT(*) FROM processed_messages GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("counting outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
