// Package lifecycle backfills derived columns on events already in the store.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hurttlocker/eventbot/internal/event"
	"github.com/hurttlocker/eventbot/internal/extract"
	"github.com/hurttlocker/eventbot/internal/llm"
	"github.com/hurttlocker/eventbot/internal/reconcile"
)

// Backfill kinds.
const (
	KindEndDates  = "end-dates"
	KindLocations = "locations"
)

// Action outcomes.
const (
	ActionUpdate = "update"
	ActionSkip   = "skip"
	ActionError  = "error"
)

type Action struct {
	Policy   string `json:"policy"`
	Action   string `json:"action"`
	RecordID string `json:"record_id"`
	Title    string `json:"title"`
	ToValue  string `json:"to_value,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Applied  bool   `json:"applied"`
}

type Report struct {
	DryRun  bool     `json:"dry_run"`
	Scanned int      `json:"scanned"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Errors  int      `json:"errors"`
	Applied int      `json:"applied"`
	Actions []Action `json:"actions"`
}

func (r *Report) add(a Action) {
	r.Actions = append(r.Actions, a)
	switch a.Action {
	case ActionUpdate:
		r.Updated++
	case ActionSkip:
		r.Skipped++
	case ActionError:
		r.Errors++
	}
	if a.Applied {
		r.Applied++
	}
}

// Runner applies backfills to every row of a store.
type Runner struct {
	store    reconcile.Store
	cols     event.Columns
	provider llm.Provider
	logger   *slog.Logger
}

// NewRunner creates a Runner. provider is only needed for location backfills.
func NewRunner(store reconcile.Store, cols event.Columns, provider llm.Provider, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: store, cols: cols.WithDefaults(), provider: provider, logger: logger}
}

// Run executes the named backfill.
func (r *Runner) Run(ctx context.Context, kind string, dryRun bool) (*Report, error) {
	switch kind {
	case KindEndDates:
		return r.BackfillEndDates(ctx, dryRun)
	case KindLocations:
		return r.BackfillLocations(ctx, dryRun)
	default:
		return nil, fmt.Errorf("unknown backfill %q (want %s or %s)", kind, KindEndDates, KindLocations)
	}
}

// BackfillEndDates sets end = start + duration on rows that have no end
// date. Rows missing either input are skipped with the missing fields named.
func (r *Runner) BackfillEndDates(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{DryRun: dryRun, Actions: make([]Action, 0, 64)}

	err := reconcile.Scan(ctx, r.store, 0, func(row event.Stored) error {
		report.Scanned++
		rec := r.cols.Decode(row.Properties)
		a := Action{Policy: KindEndDates, RecordID: row.ID, Title: shortTitle(rec)}

		if rec.EndDate != nil {
			a.Action, a.Reason = ActionSkip, "end date already set"
			report.add(a)
			return nil
		}
		if !rec.FillEndDate() {
			var missing []string
			if rec.StartDate == nil {
				missing = append(missing, "start date")
			}
			if rec.DurationDays == nil {
				missing = append(missing, "duration")
			}
			a.Action, a.Reason = ActionSkip, "missing "+strings.Join(missing, ", ")
			report.add(a)
			return nil
		}

		a.Action, a.ToValue = ActionUpdate, event.FormatDate(rec.EndDate)
		if !dryRun {
			if err := r.store.Update(ctx, row.ID, event.Properties{r.cols.EndDate: event.DateValue(*rec.EndDate)}); err != nil {
				a.Action, a.Reason = ActionError, err.Error()
				r.logger.Error("end date update failed", "id", row.ID, "error", err)
				report.add(a)
				return nil
			}
			a.Applied = true
		}
		report.add(a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// BackfillLocations classifies rows without a location as online or
// offline. A failed classification writes the online default.
func (r *Runner) BackfillLocations(ctx context.Context, dryRun bool) (*Report, error) {
	if r.provider == nil {
		return nil, fmt.Errorf("location backfill needs an LLM provider")
	}
	report := &Report{DryRun: dryRun, Actions: make([]Action, 0, 64)}

	err := reconcile.Scan(ctx, r.store, 0, func(row event.Stored) error {
		report.Scanned++
		rec := r.cols.Decode(row.Properties)
		a := Action{Policy: KindLocations, RecordID: row.ID, Title: shortTitle(rec)}

		if rec.Location != event.LocationUnknown {
			a.Action, a.Reason = ActionSkip, "location already set"
			report.add(a)
			return nil
		}

		loc, err := extract.ClassifyLocation(ctx, r.provider, rec.DisplayTitle(), rec.MissionSummary)
		if err != nil {
			r.logger.Warn("location classification failed, using default", "id", row.ID, "error", err)
			a.Reason = "classification failed, defaulted"
		}
		a.Action, a.ToValue = ActionUpdate, string(loc)
		if !dryRun {
			if err := r.store.Update(ctx, row.ID, event.Properties{r.cols.Location: event.SelectValue(string(loc))}); err != nil {
				a.Action, a.Reason = ActionError, err.Error()
				r.logger.Error("location update failed", "id", row.ID, "error", err)
				report.add(a)
				return nil
			}
			a.Applied = true
		}
		report.add(a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func shortTitle(rec event.Record) string {
	return event.Truncate(rec.DisplayTitle(), 30)
}
