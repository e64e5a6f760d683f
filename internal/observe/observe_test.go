package observe

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hurttlocker/eventbot/internal/store"
)

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m := NewMetrics()
	m.ObserveMessage("saved")
	m.ObserveMessage("duplicate")
	m.ObserveExtraction(true, 1200*time.Millisecond)
	m.ObserveExtraction(false, 10*time.Millisecond)
	m.ObserveDuplicate("url")
	m.ObserveStoreRequest("query", nil)
	m.ObserveStoreRequest("create", errors.New("boom"))

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`eventbot_messages_total{outcome="saved"} 1`,
		`eventbot_messages_total{outcome="duplicate"} 1`,
		`eventbot_extract_total{status="ok"} 1`,
		`eventbot_extract_total{status="fallback"} 1`,
		`eventbot_duplicates_total{rule="url"} 1`,
		`eventbot_store_requests_total{op="create",status="error"} 1`,
		`eventbot_store_requests_total{op="query",status="ok"} 1`,
		`eventbot_extract_duration_seconds_count 2`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}

	health, err := server.Client().Get(server.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	health.Body.Close()
	if health.StatusCode != 200 {
		t.Fatalf("expected healthz 200, got %d", health.StatusCode)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveMessage("saved")
	m.ObserveExtraction(true, time.Second)
	m.ObserveDuplicate("url")
	m.ObserveStoreRequest("query", nil)
}

func TestMetricsServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewMetrics().Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not stop")
	}
}

func TestGetStats(t *testing.T) {
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	outcomes := []string{"saved", "saved", "failed", "failed", "failed", "duplicate", "saved", "saved", "saved", "saved"}
	for i, o := range outcomes {
		m := &store.ProcessedMessage{RequestID: "r", UpdateID: int64(i), Outcome: o, Title: "t"}
		if o == "failed" {
			m.Error = "notion 400"
		}
		if err := s.RecordMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetLastUpdateID(ctx, 9); err != nil {
		t.Fatal(err)
	}

	st, err := GetStats(ctx, s)
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	if st.Messages != 10 || st.Outcomes["saved"] != 6 || st.LastUpdateID != 9 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if len(st.RecentFailures) != 3 || st.RecentFailures[0].Error != "notion 400" {
		t.Fatalf("unexpected failures: %+v", st.RecentFailures)
	}
	if len(st.Alerts) != 1 || !strings.Contains(st.Alerts[0], "30%") {
		t.Fatalf("expected failure-rate alert, got %v", st.Alerts)
	}
}
