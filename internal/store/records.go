package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/hurttlocker/eventbot/internal/event"
)

// RecordPageSize matches the Notion query page size.
const RecordPageSize = 100

// ErrRecordNotFound is returned by Update for an unknown ID.
var ErrRecordNotFound = errors.New("record not found")

// Query returns one page of offline event rows in insertion order. The
// cursor is the last seq of the previous page.
func (s *SQLiteStore) Query(ctx context.Context, cursor string) (event.Page, error) {
	after := int64(0)
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return event.Page{}, fmt.Errorf("invalid cursor %q", cursor)
		}
		after = n
	}

	// One extra row tells whether another page exists.
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, id, properties FROM event_records WHERE seq > ? ORDER BY seq LIMIT ?",
		after, RecordPageSize+1)
	if err != nil {
		return event.Page{}, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var page event.Page
	var lastSeq int64
	for rows.Next() {
		var seq int64
		var id, raw string
		if err := rows.Scan(&seq, &id, &raw); err != nil {
			return event.Page{}, fmt.Errorf("scanning record: %w", err)
		}
		if len(page.Records) == RecordPageSize {
			page.HasMore = true
			break
		}
		props := event.Properties{}
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			return event.Page{}, fmt.Errorf("decoding record %s: %w", id, err)
		}
		page.Records = append(page.Records, event.Stored{ID: id, Properties: props})
		lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		return event.Page{}, err
	}
	if page.HasMore {
		page.NextCursor = strconv.FormatInt(lastSeq, 10)
	}
	return page, nil
}

// Create inserts a row with a fresh UUID.
func (s *SQLiteStore) Create(ctx context.Context, props event.Properties) (string, error) {
	raw, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encoding properties: %w", err)
	}
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO event_records (id, properties) VALUES (?, ?)", id, string(raw)); err != nil {
		return "", fmt.Errorf("inserting record: %w", err)
	}
	return id, nil
}

// Update merges props into an existing row.
func (s *SQLiteStore) Update(ctx context.Context, id string, props event.Properties) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning update: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, "SELECT properties FROM event_records WHERE id = ?", id).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return fmt.Errorf("loading record %s: %w", id, err)
	}

	current := event.Properties{}
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return fmt.Errorf("decoding record %s: %w", id, err)
	}
	for k, v := range props {
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("encoding properties: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE event_records SET properties = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(merged), id); err != nil {
		return fmt.Errorf("updating record %s: %w", id, err)
	}
	return tx.Commit()
}

// CountRecords returns the number of offline event rows.
func (s *SQLiteStore) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM event_records").Scan(&n)
	return n, err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
