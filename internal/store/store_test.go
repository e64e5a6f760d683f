package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hurttlocker/eventbot/internal/event"
)

// newTestStore creates an in-memory store for testing.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// --- Database Initialization ---

func TestNewStore(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"meta", "processed_messages", "event_records"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('processed_messages') WHERE name='request_id'").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatal("request_id column missing")
	}
	if v, _ := s.getMetaValue("schema_version"); v != schemaVersion {
		t.Fatalf("expected schema_version %s, got %q", schemaVersion, v)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "eventbot.db")
	ctx := context.Background()

	s, err := NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := s.SetLastUpdateID(ctx, 77); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	got, err := s.LastUpdateID(ctx)
	if err != nil || got != 77 {
		t.Fatalf("expected offset 77 after reopen, got %d (%v)", got, err)
	}
}

// --- Ledger ---

func TestUpdateOffsetOnlyMovesForward(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if got, err := s.LastUpdateID(ctx); err != nil || got != 0 {
		t.Fatalf("expected 0 on fresh db, got %d (%v)", got, err)
	}
	for _, id := range []int64{10, 12, 11} {
		if err := s.SetLastUpdateID(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if got, _ := s.LastUpdateID(ctx); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
}

func TestRecordMessageAndCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, outcome := range []string{"saved", "duplicate", "saved", "failed"} {
		m := &ProcessedMessage{
			RequestID: fmt.Sprintf("req-%d", i),
			UpdateID:  int64(100 + i),
			ChatID:    1,
			MessageID: int64(i),
			Outcome:   outcome,
			Title:     "Foo",
		}
		if err := s.RecordMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
		if m.ID == 0 {
			t.Fatal("expected ledger id to be set")
		}
	}

	recent, err := s.RecentMessages(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Outcome != "failed" || recent[0].RequestID != "req-3" {
		t.Fatalf("unexpected recent rows: %+v", recent)
	}

	counts, err := s.OutcomeCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["saved"] != 2 || counts["duplicate"] != 1 || counts["failed"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestRecordMessageTruncatesOnRuneBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := strings.Repeat("에어드랍", 60)
	m := &ProcessedMessage{RequestID: "req-ko", ChatID: 1, Outcome: "saved", Title: title}
	if err := s.RecordMessage(ctx, m); err != nil {
		t.Fatal(err)
	}

	recent, err := s.RecentMessages(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	got := recent[0].Title
	if !utf8.ValidString(got) {
		t.Fatalf("stored title is not valid UTF-8: %q", got)
	}
	if want := string([]rune(title)[:200]) + "..."; got != want {
		t.Fatalf("unexpected stored title length %d runes", utf8.RuneCountInString(got))
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("짧은 제목", 200); got != "짧은 제목" {
		t.Fatalf("short text changed: %q", got)
	}
	if got := truncate("가나다라", 2); got != "가나..." {
		t.Fatalf("truncate() = %q", got)
	}
}

// --- Offline records ---

func TestRecordsCreateQueryUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cols := event.DefaultColumns()

	id, err := s.Create(ctx, event.Properties{
		cols.Title:        event.TitleValue("Foo Airdrop"),
		cols.DurationDays: event.NumberValue(7),
		cols.StartDate:    event.Value{Kind: event.KindDate, Text: "2026-01-05"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	page, err := s.Query(ctx, "")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(page.Records) != 1 || page.HasMore || page.Records[0].ID != id {
		t.Fatalf("unexpected page: %+v", page)
	}
	rec := cols.Decode(page.Records[0].Properties)
	if rec.Title != "Foo Airdrop" || rec.DurationDays == nil || *rec.DurationDays != 7 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	err = s.Update(ctx, id, event.Properties{cols.EndDate: event.Value{Kind: event.KindDate, Text: "2026-01-12"}})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	page, _ = s.Query(ctx, "")
	rec = cols.Decode(page.Records[0].Properties)
	if event.FormatDate(rec.EndDate) != "2026-01-12" || rec.Title != "Foo Airdrop" {
		t.Fatalf("update should merge properties, got %+v", rec)
	}

	if err := s.Update(ctx, "missing", event.Properties{}); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestRecordsPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	total := RecordPageSize + 5
	for i := 0; i < total; i++ {
		if _, err := s.Create(ctx, event.Properties{"n": event.NumberValue(float64(i))}); err != nil {
			t.Fatal(err)
		}
	}

	first, err := s.Query(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Records) != RecordPageSize || !first.HasMore || first.NextCursor == "" {
		t.Fatalf("unexpected first page: %d records hasMore=%v", len(first.Records), first.HasMore)
	}
	second, err := s.Query(ctx, first.NextCursor)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Records) != 5 || second.HasMore {
		t.Fatalf("unexpected second page: %d records hasMore=%v", len(second.Records), second.HasMore)
	}
	if n, _ := second.Records[0].Properties.Number("n"); n != float64(RecordPageSize) {
		t.Fatalf("second page should continue in order, got %v", n)
	}

	if c, _ := s.CountRecords(ctx); c != int64(total) {
		t.Fatalf("expected %d records, got %d", total, c)
	}
	if _, err := s.Query(ctx, "not-a-number"); err == nil {
		t.Fatal("expected error for bad cursor")
	}
}
