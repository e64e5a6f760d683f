// Package reconcile decides whether an extracted event is already in the
// record store and maps new events onto store columns.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hurttlocker/eventbot/internal/event"
)

// DefaultScanPages bounds the duplicate scan to 1000 rows.
const DefaultScanPages = 10

// Store is the record store contract shared by the Notion and SQLite backends.
type Store interface {
	Query(ctx context.Context, cursor string) (event.Page, error)
	Create(ctx context.Context, props event.Properties) (string, error)
	Update(ctx context.Context, id string, props event.Properties) error
}

// Rule names the duplicate rule that matched.
type Rule string

const (
	RuleNone        Rule = ""
	RuleURL         Rule = "url"
	RuleProjectDate Rule = "project_date"
)

// Match is an existing row that an event duplicates.
type Match struct {
	ID   string
	Rule Rule
}

// Observer receives store call outcomes and duplicate hits.
type Observer interface {
	ObserveStoreRequest(op string, err error)
	ObserveDuplicate(rule string)
}

// Reconciler runs duplicate checks and writes against a Store.
type Reconciler struct {
	store     Store
	cols      event.Columns
	scanPages int
	gate      Gate
	logger    *slog.Logger
	observer  Observer
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithColumns overrides the store column names.
func WithColumns(c event.Columns) Option { return func(r *Reconciler) { r.cols = c.WithDefaults() } }

// WithScanPages sets how many pages of 100 rows the duplicate scan reads.
func WithScanPages(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.scanPages = n
		}
	}
}

// WithGate serializes Reconcile calls that share a dedup key.
func WithGate(g Gate) Option { return func(r *Reconciler) { r.gate = g } }

// WithObserver reports store calls and duplicate hits to o.
func WithObserver(o Observer) Option { return func(r *Reconciler) { r.observer = o } }

// New creates a Reconciler with the default columns and an in-process gate.
func New(store Store, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		store:     store,
		cols:      event.DefaultColumns(),
		scanPages: DefaultScanPages,
		gate:      NewKeyedGate(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Columns returns the column names in use.
func (r *Reconciler) Columns() event.Columns { return r.cols }

// Store returns the underlying store.
func (r *Reconciler) Store() Store { return r.store }

// FindDuplicate scans stored rows in store order and returns the first one
// that matches by source URL, or by project name and start date together.
// Absent inputs disable the rule that needs them.
func (r *Reconciler) FindDuplicate(ctx context.Context, sourceURL, projectName string, startDate *time.Time) (Match, bool, error) {
	url := event.NormalizeURL(sourceURL)
	project := strings.TrimSpace(projectName)
	if event.IsUnknown(project) {
		project = ""
	}
	start := event.FormatDate(startDate)
	if url == "" && (project == "" || start == "") {
		return Match{}, false, nil
	}

	var found Match
	var hit bool
	truncated, err := r.scan(ctx, r.scanPages, func(row event.Stored) bool {
		if url != "" && row.Properties.Text(r.cols.SourceURL) == url {
			found, hit = Match{ID: row.ID, Rule: RuleURL}, true
			return false
		}
		if project != "" && start != "" &&
			row.Properties.Text(r.cols.ProjectName) == project &&
			event.FormatDate(row.Properties.Date(r.cols.StartDate)) == start {
			found, hit = Match{ID: row.ID, Rule: RuleProjectDate}, true
			return false
		}
		return true
	})
	if err != nil {
		return Match{}, false, err
	}
	if truncated && !hit {
		r.logger.Warn("duplicate scan stopped at page limit", "pages", r.scanPages)
	}
	if hit && r.observer != nil {
		r.observer.ObserveDuplicate(string(found.Rule))
	}
	return found, hit, nil
}

// IsDuplicate reports whether the event is already stored. A failed query
// is logged and treated as no duplicate.
func (r *Reconciler) IsDuplicate(ctx context.Context, sourceURL, projectName string, startDate *time.Time) bool {
	_, hit, err := r.FindDuplicate(ctx, sourceURL, projectName, startDate)
	if err != nil {
		r.logger.Error("duplicate check failed", "error", err)
		return false
	}
	return hit
}

// BuildProperties maps a record onto store columns. Absent values are left
// out; text is truncated to the column limits.
func (r *Reconciler) BuildProperties(sourceURL string, rec event.Record) event.Properties {
	c := r.cols
	props := event.Properties{
		c.Title: event.TitleValue(event.Truncate(rec.DisplayTitle(), event.MaxTitleLen)),
	}
	if v := strings.TrimSpace(rec.ProjectName); v != "" && !event.IsUnknown(v) {
		props[c.ProjectName] = event.RichTextValue(event.Truncate(v, event.MaxTitleLen))
	}
	if u := event.NormalizeURL(sourceURL); u != "" {
		props[c.SourceURL] = event.URLValue(event.Truncate(u, event.MaxURLLen))
	}
	switch rec.TotalPrize.Kind {
	case event.PrizeStated:
		props[c.TotalPrize] = event.RichTextValue(event.Truncate(rec.TotalPrize.Text, event.MaxTextLen))
	case event.PrizeUniform:
		props[c.TotalPrize] = event.RichTextValue(event.UniformPrizeMarker)
	}
	if v := strings.TrimSpace(rec.PrizeBreakdown); v != "" && !event.IsUnknown(v) {
		props[c.PrizeBreakdown] = event.RichTextValue(event.Truncate(v, event.MaxTextLen))
	}
	if rec.StartDate != nil {
		props[c.StartDate] = event.DateValue(*rec.StartDate)
	}
	if rec.EndDate != nil {
		props[c.EndDate] = event.DateValue(*rec.EndDate)
	}
	if rec.DurationDays != nil && *rec.DurationDays != 0 {
		props[c.DurationDays] = event.NumberValue(float64(*rec.DurationDays))
	}
	if v := strings.TrimSpace(rec.MissionSummary); v != "" && !event.IsUnknown(v) {
		props[c.MissionSummary] = event.RichTextValue(event.Truncate(v, event.MaxTextLen))
	}
	if rec.Location != event.LocationUnknown {
		props[c.Location] = event.SelectValue(string(rec.Location))
	}
	return props
}

// Persist writes rec as a new row with one create call and returns its ID.
// Failures are logged and returned.
func (r *Reconciler) Persist(ctx context.Context, sourceURL string, rec event.Record) (string, error) {
	id, err := r.store.Create(ctx, r.BuildProperties(sourceURL, rec))
	r.observe("create", err)
	if err != nil {
		r.logger.Error("saving event failed", "title", rec.DisplayTitle(), "error", err)
		return "", fmt.Errorf("creating record: %w", err)
	}
	r.logger.Info("event saved", "id", id, "title", rec.DisplayTitle())
	return id, nil
}

// Decision is the result of Reconcile.
type Decision struct {
	Duplicate bool
	Match     Match
	PageID    string
	Err       error
}

// Reconcile checks for a duplicate and persists rec when none is found. The
// check and the write hold the gate for the event's dedup key. A gate that
// fails for any reason other than ctx ending is skipped with a warning.
func (r *Reconciler) Reconcile(ctx context.Context, sourceURL string, rec event.Record) Decision {
	if key := DedupKey(sourceURL, rec.ProjectName, rec.StartDate); key != "" && r.gate != nil {
		unlock, err := r.gate.Lock(ctx, key)
		switch {
		case err == nil:
			defer unlock()
		case ctx.Err() != nil:
			return Decision{Err: fmt.Errorf("acquiring gate for %q: %w", key, err)}
		default:
			r.logger.Warn("gate unavailable, continuing without it", "key", key, "error", err)
		}
	}

	match, hit, err := r.FindDuplicate(ctx, sourceURL, rec.ProjectName, rec.StartDate)
	if err != nil {
		r.logger.Error("duplicate check failed", "error", err)
	}
	if hit {
		r.logger.Info("duplicate event", "rule", match.Rule, "existing", match.ID)
		return Decision{Duplicate: true, Match: match}
	}

	id, err := r.Persist(ctx, sourceURL, rec)
	return Decision{PageID: id, Err: err}
}

// DedupKey returns the key the gate locks for an event: the source URL when
// usable, else project and start date, else "".
func DedupKey(sourceURL, projectName string, startDate *time.Time) string {
	if u := event.NormalizeURL(sourceURL); u != "" {
		return "url:" + u
	}
	project := strings.TrimSpace(projectName)
	if project == "" || event.IsUnknown(project) || startDate == nil {
		return ""
	}
	return "pd:" + strings.ToLower(project) + "|" + event.FormatDate(startDate)
}

// Scan visits every stored row, following the store cursor across pages.
// maxPages <= 0 reads all pages.
func Scan(ctx context.Context, store Store, maxPages int, fn func(event.Stored) error) error {
	cursor := ""
	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		res, err := store.Query(ctx, cursor)
		if err != nil {
			return fmt.Errorf("querying records: %w", err)
		}
		for _, row := range res.Records {
			if err := fn(row); err != nil {
				return err
			}
		}
		if !res.HasMore {
			return nil
		}
		cursor = res.NextCursor
	}
	return nil
}

// scan reports whether it stopped at maxPages with more rows available.
func (r *Reconciler) scan(ctx context.Context, maxPages int, visit func(event.Stored) bool) (bool, error) {
	cursor := ""
	for page := 0; page < maxPages; page++ {
		res, err := r.store.Query(ctx, cursor)
		r.observe("query", err)
		if err != nil {
			return false, fmt.Errorf("querying records: %w", err)
		}
		for _, row := range res.Records {
			if !visit(row) {
				return false, nil
			}
		}
		if !res.HasMore {
			return false, nil
		}
		cursor = res.NextCursor
	}
	return true, nil
}

func (r *Reconciler) observe(op string, err error) {
	if r.observer != nil {
		r.observer.ObserveStoreRequest(op, err)
	}
}
