package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hurttlocker/eventbot/internal/connect"
	"github.com/hurttlocker/eventbot/internal/event"
	"github.com/hurttlocker/eventbot/internal/lifecycle"
	"github.com/hurttlocker/eventbot/internal/store"
)

func resetGlobals(t *testing.T) {
	t.Helper()
	globalConfigPath, globalDBPath, globalLLM, globalStore, globalMetricsAddr = "", "", "", "", ""
	globalVerbose = false
	stdin = os.Stdin
	t.Cleanup(func() {
		globalConfigPath, globalDBPath, globalLLM, globalStore, globalMetricsAddr = "", "", "", "", ""
		globalVerbose = false
		stdin = os.Stdin
	})
}

func captureStdout(fn func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// ==================== parseGlobalFlags ====================

func TestParseGlobalFlags_Separate(t *testing.T) {
	resetGlobals(t)

	args := parseGlobalFlags([]string{"--db", "/tmp/test.db", "--store", "sqlite", "backfill", "end-dates"})

	if globalDBPath != "/tmp/test.db" || globalStore != "sqlite" {
		t.Errorf("globals = %q %q", globalDBPath, globalStore)
	}
	if len(args) != 2 || args[0] != "backfill" || args[1] != "end-dates" {
		t.Errorf("filtered args = %v, want [backfill end-dates]", args)
	}
}

func TestParseGlobalFlags_Equals(t *testing.T) {
	resetGlobals(t)

	args := parseGlobalFlags([]string{"--llm=google/gemini-2.5-flash", "-V", "extract", "hello"})

	if globalLLM != "google/gemini-2.5-flash" || !globalVerbose {
		t.Errorf("globalLLM=%q verbose=%v", globalLLM, globalVerbose)
	}
	if len(args) != 2 || args[0] != "extract" {
		t.Errorf("filtered args = %v", args)
	}
}

func TestParseGlobalFlags_MissingValueIsKept(t *testing.T) {
	resetGlobals(t)

	args := parseGlobalFlags([]string{"serve", "--db"})
	if globalDBPath != "" || len(args) != 2 {
		t.Errorf("globalDBPath=%q args=%v", globalDBPath, args)
	}
}

// ==================== check ====================

func TestSchemaProblems(t *testing.T) {
	cols := event.DefaultColumns()
	db := connect.Database{Columns: map[string]string{}}
	for name, kind := range cols.Kinds() {
		db.Columns[name] = string(kind)
	}
	if p := schemaProblems(cols, db); len(p) != 0 {
		t.Fatalf("expected no problems, got %v", p)
	}

	delete(db.Columns, cols.Location)
	db.Columns[cols.DurationDays] = "rich_text"
	p := schemaProblems(cols, db)
	if len(p) != 2 {
		t.Fatalf("expected 2 problems, got %v", p)
	}
	joined := strings.Join(p, "\n")
	if !strings.Contains(joined, "missing column \"장소\"") || !strings.Contains(joined, "is rich_text, want number") {
		t.Fatalf("unexpected problems: %v", p)
	}
}

// ==================== backfill ====================

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	if !confirm(strings.NewReader("y\n"), &out, "go? ") {
		t.Fatal("y should confirm")
	}
	if confirm(strings.NewReader("\n"), &out, "go? ") {
		t.Fatal("empty answer should cancel")
	}
	if !strings.Contains(out.String(), "go? ") {
		t.Fatal("prompt not written")
	}
}

func TestFormatReport(t *testing.T) {
	resetGlobals(t)
	r := &lifecycle.Report{DryRun: true, Scanned: 2, Updated: 1, Skipped: 1, Actions: []lifecycle.Action{
		{Action: lifecycle.ActionUpdate, Title: "Foo", ToValue: "2026-01-12"},
		{Action: lifecycle.ActionSkip, Title: "Bar", Reason: "missing duration"},
	}}
	out := formatReport("end-dates", r)
	if !strings.Contains(out, "Dry run") || !strings.Contains(out, "Foo → 2026-01-12") {
		t.Fatalf("unexpected report:\n%s", out)
	}
	if strings.Contains(out, "Bar") {
		t.Fatal("skips are only listed with --verbose")
	}
	if !strings.Contains(out, "scanned 2, updated 1, skipped 1, errors 0") {
		t.Fatalf("missing totals:\n%s", out)
	}
}

func setupSQLiteBackend(t *testing.T) string {
	t.Helper()
	resetGlobals(t)
	for _, k := range []string{"EVENTBOT_CONFIG", "EVENTBOT_STORE", "EVENTBOT_DB", "EVENTBOT_ENV", "EVENTBOT_REDIS_ADDR"} {
		t.Setenv(k, "")
	}
	t.Setenv("HOME", t.TempDir())

	dbPath := filepath.Join(t.TempDir(), "eventbot.db")
	s, err := store.NewStore(store.StoreConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	c := event.DefaultColumns()
	if _, err := s.Create(context.Background(), event.Properties{
		c.Title:        event.TitleValue("Foo"),
		c.StartDate:    event.Value{Kind: event.KindDate, Text: "2026-01-05"},
		c.DurationDays: event.NumberValue(7),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	globalDBPath = dbPath
	globalStore = "sqlite"
	globalConfigPath = filepath.Join(t.TempDir(), "none.yaml")
	return dbPath
}

func endDateOf(t *testing.T, dbPath string) string {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: dbPath})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	page, err := s.Query(context.Background(), "")
	if err != nil || len(page.Records) != 1 {
		t.Fatalf("query: %v (%d rows)", err, len(page.Records))
	}
	rec := event.DefaultColumns().Decode(page.Records[0].Properties)
	return event.FormatDate(rec.EndDate)
}

func TestRunBackfill_DryRunJSON(t *testing.T) {
	dbPath := setupSQLiteBackend(t)

	var runErr error
	out := captureStdout(func() {
		runErr = runBackfill([]string{"end-dates", "--dry-run", "--json"})
	})
	if runErr != nil {
		t.Fatalf("runBackfill dry-run: %v\nout=%s", runErr, out)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode backfill json: %v\nout=%s", err, out)
	}
	if v, ok := payload["dry_run"].(bool); !ok || !v {
		t.Fatalf("expected dry_run=true payload, got %v", payload["dry_run"])
	}
	if payload["updated"] != float64(1) {
		t.Fatalf("expected one planned update, got %v", payload["updated"])
	}
	if got := endDateOf(t, dbPath); got != "" {
		t.Fatalf("dry-run should not write, end date = %q", got)
	}
}

func TestRunBackfill_ConfirmDeclined(t *testing.T) {
	dbPath := setupSQLiteBackend(t)
	stdin = strings.NewReader("n\n")

	out := captureStdout(func() {
		if err := runBackfill([]string{"end-dates"}); err != nil {
			t.Errorf("runBackfill: %v", err)
		}
	})
	if !strings.Contains(out, "Cancelled") {
		t.Fatalf("expected cancellation, got %q", out)
	}
	if got := endDateOf(t, dbPath); got != "" {
		t.Fatalf("declined run should not write, end date = %q", got)
	}
}

func TestRunBackfill_Yes(t *testing.T) {
	dbPath := setupSQLiteBackend(t)

	out := captureStdout(func() {
		if err := runBackfill([]string{"end-dates", "--yes"}); err != nil {
			t.Errorf("runBackfill: %v", err)
		}
	})
	if !strings.Contains(out, "updated 1") {
		t.Fatalf("unexpected output: %s", out)
	}
	if got := endDateOf(t, dbPath); got != "2026-01-12" {
		t.Fatalf("end date = %q, want 2026-01-12", got)
	}
}

func TestRunBackfill_Usage(t *testing.T) {
	resetGlobals(t)
	if err := runBackfill([]string{"titles"}); err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := runBackfill([]string{"end-dates", "--force"}); err == nil {
		t.Fatal("expected unknown flag error")
	}
}

// ==================== status ====================

func TestRunStatus_JSON(t *testing.T) {
	dbPath := setupSQLiteBackend(t)
	s, err := store.NewStore(store.StoreConfig{DBPath: dbPath})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RecordMessage(context.Background(), &store.ProcessedMessage{RequestID: "r1", Outcome: "saved", Title: "Foo"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	var runErr error
	out := captureStdout(func() { runErr = runStatus([]string{"--json"}) })
	if runErr != nil {
		t.Fatalf("runStatus: %v", runErr)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode status json: %v\nout=%s", err, out)
	}
	if payload["messages"] != float64(1) || payload["offline_records"] != float64(1) {
		t.Fatalf("unexpected status: %v", payload)
	}
}

func TestRunStatus_Vacuum(t *testing.T) {
	setupSQLiteBackend(t)

	var runErr error
	out := captureStdout(func() { runErr = runStatus([]string{"--vacuum", "--json"}) })
	if runErr != nil {
		t.Fatalf("runStatus --vacuum: %v", runErr)
	}
	if !strings.Contains(out, `"vacuum_ran": true`) {
		t.Fatalf("expected vacuum_ran=true in JSON output, got: %s", out)
	}

	out = captureStdout(func() { runErr = runStatus([]string{"--json"}) })
	if runErr != nil || !strings.Contains(out, `"vacuum_ran": false`) {
		t.Fatalf("expected vacuum_ran=false without flag, got: %s (%v)", out, runErr)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{512: "512 B", 2048: "2.0 KB", 3 << 20: "3.0 MB"}
	for n, want := range cases {
		if got := formatBytes(n); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}
