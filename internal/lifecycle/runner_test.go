package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hurttlocker/eventbot/internal/event"
	"github.com/hurttlocker/eventbot/internal/llm"
	"github.com/hurttlocker/eventbot/internal/store"
)

type fakeProvider struct {
	reply string
	err   error
	calls int
}

func (f *fakeProvider) Complete(context.Context, string, llm.CompletionOpts) (string, error) {
	f.calls++
	return f.reply, f.err
}
func (f *fakeProvider) Name() string { return "fake/model" }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newSeededStore(t *testing.T) (*store.SQLiteStore, map[string]string) {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	c := event.DefaultColumns()
	ctx := context.Background()
	rows := map[string]event.Properties{
		"complete": {
			c.Title:        event.TitleValue("Complete"),
			c.StartDate:    event.Value{Kind: event.KindDate, Text: "2026-01-05"},
			c.DurationDays: event.NumberValue(7),
		},
		"has-end": {
			c.Title:     event.TitleValue("Has end"),
			c.StartDate: event.Value{Kind: event.KindDate, Text: "2026-01-05"},
			c.EndDate:   event.Value{Kind: event.KindDate, Text: "2026-01-06"},
			c.Location:  event.SelectValue("오프라인"),
		},
		"no-duration": {
			c.Title:     event.TitleValue("No duration"),
			c.StartDate: event.Value{Kind: event.KindDate, Text: "2026-01-05"},
		},
	}
	ids := make(map[string]string, len(rows))
	for name, props := range rows {
		id, err := s.Create(ctx, props)
		if err != nil {
			t.Fatal(err)
		}
		ids[name] = id
	}
	return s, ids
}

func actionFor(t *testing.T, r *Report, id string) Action {
	t.Helper()
	for _, a := range r.Actions {
		if a.RecordID == id {
			return a
		}
	}
	t.Fatalf("no action for %s", id)
	return Action{}
}

func TestBackfillEndDates(t *testing.T) {
	s, ids := newSeededStore(t)
	r := NewRunner(s, event.Columns{}, nil, quietLogger())
	ctx := context.Background()

	report, err := r.BackfillEndDates(ctx, false)
	if err != nil {
		t.Fatalf("BackfillEndDates() failed: %v", err)
	}
	if report.Scanned != 3 || report.Updated != 1 || report.Skipped != 2 || report.Applied != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if a := actionFor(t, report, ids["complete"]); a.ToValue != "2026-01-12" || !a.Applied {
		t.Fatalf("unexpected update action: %+v", a)
	}
	if a := actionFor(t, report, ids["no-duration"]); a.Reason != "missing duration" {
		t.Fatalf("expected missing duration, got %+v", a)
	}

	page, _ := s.Query(ctx, "")
	for _, row := range page.Records {
		if row.ID == ids["complete"] {
			rec := event.DefaultColumns().Decode(row.Properties)
			if event.FormatDate(rec.EndDate) != "2026-01-12" {
				t.Fatalf("end date not written, got %q", event.FormatDate(rec.EndDate))
			}
		}
	}

	again, _ := r.BackfillEndDates(ctx, false)
	if again.Updated != 0 {
		t.Fatalf("second run should be a no-op, got %+v", again)
	}
}

func TestBackfillEndDatesDryRunNoWrites(t *testing.T) {
	s, _ := newSeededStore(t)
	r := NewRunner(s, event.Columns{}, nil, quietLogger())
	ctx := context.Background()

	report, err := r.BackfillEndDates(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if !report.DryRun || report.Updated != 1 || report.Applied != 0 {
		t.Fatalf("unexpected dry-run report: %+v", report)
	}
	again, _ := r.BackfillEndDates(ctx, true)
	if again.Updated != 1 {
		t.Fatal("dry run must not write")
	}
}

func TestBackfillLocations(t *testing.T) {
	s, ids := newSeededStore(t)
	p := &fakeProvider{reply: "오프라인"}
	r := NewRunner(s, event.Columns{}, p, quietLogger())

	report, err := r.BackfillLocations(context.Background(), false)
	if err != nil {
		t.Fatalf("BackfillLocations() failed: %v", err)
	}
	if report.Updated != 2 || report.Skipped != 1 || p.calls != 2 {
		t.Fatalf("unexpected report: %+v (calls=%d)", report, p.calls)
	}
	if a := actionFor(t, report, ids["has-end"]); a.Action != ActionSkip {
		t.Fatalf("row with location should be skipped: %+v", a)
	}
	if a := actionFor(t, report, ids["complete"]); a.ToValue != "오프라인" {
		t.Fatalf("unexpected location: %+v", a)
	}
}

func TestBackfillLocationsDefaultsOnError(t *testing.T) {
	s, ids := newSeededStore(t)
	r := NewRunner(s, event.Columns{}, &fakeProvider{err: errors.New("rate limited")}, quietLogger())

	report, err := r.BackfillLocations(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	a := actionFor(t, report, ids["complete"])
	if a.ToValue != "온라인" || !a.Applied || !strings.Contains(a.Reason, "defaulted") {
		t.Fatalf("expected online default, got %+v", a)
	}
}

func TestRunRejectsUnknownKind(t *testing.T) {
	r := NewRunner(nil, event.Columns{}, nil, quietLogger())
	if _, err := r.Run(context.Background(), "titles", true); err == nil {
		t.Fatal("expected error")
	}
	if _, err := r.BackfillLocations(context.Background(), true); err == nil {
		t.Fatal("expected error without provider")
	}
}
