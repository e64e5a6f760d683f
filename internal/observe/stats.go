package observe

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/hurttlocker/eventbot/internal/store"
)

// Stats summarizes the local ledger.
type Stats struct {
	Messages       int64            `json:"messages"`
	Outcomes       map[string]int64 `json:"outcomes"`
	LastUpdateID   int64            `json:"last_update_id"`
	OfflineRecords int64            `json:"offline_records"`
	StorageBytes   int64            `json:"storage_bytes"`
	RecentFailures []Failure        `json:"recent_failures,omitempty"`
	Alerts         []string         `json:"alerts,omitempty"`
}

// Failure is a recent failed or skipped message.
type Failure struct {
	RequestID string `json:"request_id"`
	Outcome   string `json:"outcome"`
	Title     string `json:"title"`
	Error     string `json:"error"`
	At        string `json:"at"`
}

// failureAlertRatio raises an alert when this share of messages failed.
const failureAlertRatio = 0.2

// GetStats reads the ledger and the offline store.
func GetStats(ctx context.Context, s *store.SQLiteStore) (*Stats, error) {
	counts, err := s.OutcomeCounts(ctx)
	if err != nil {
		return nil, err
	}
	last, err := s.LastUpdateID(ctx)
	if err != nil {
		return nil, err
	}
	offline, err := s.CountRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting offline records: %w", err)
	}

	st := &Stats{Outcomes: counts, LastUpdateID: last, OfflineRecords: offline}
	for _, n := range counts {
		st.Messages += n
	}
	if info, err := os.Stat(s.Path()); err == nil {
		st.StorageBytes = info.Size()
	}

	recent, err := s.RecentMessages(ctx, 50)
	if err != nil {
		return nil, err
	}
	for _, m := range recent {
		if m.Outcome != "failed" && m.Outcome != "skipped" {
			continue
		}
		st.RecentFailures = append(st.RecentFailures, Failure{
			RequestID: m.RequestID,
			Outcome:   m.Outcome,
			Title:     m.Title,
			Error:     m.Error,
			At:        m.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		})
		if len(st.RecentFailures) == 5 {
			break
		}
	}

	st.Alerts = alerts(st)
	return st, nil
}

func alerts(st *Stats) []string {
	var out []string
	if st.Messages >= 10 {
		failed := st.Outcomes["failed"]
		if ratio := float64(failed) / float64(st.Messages); ratio >= failureAlertRatio {
			out = append(out, fmt.Sprintf("%.0f%% of messages failed to save", ratio*100))
		}
	}
	if fb := st.Outcomes["skipped"]; fb > 0 && fb*2 >= st.Messages && st.Messages >= 4 {
		out = append(out, "most messages were skipped after extraction failures")
	}
	sort.Strings(out)
	return out
}
