// Package extract turns chat message text into event fields by asking a
// language model for a single JSON object.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hurttlocker/eventbot/internal/event"
	"github.com/hurttlocker/eventbot/internal/llm"
)

// Sampling used for every extraction request.
const (
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 800
)

// ErrEmptyResponse is returned when the model answers with nothing.
var ErrEmptyResponse = errors.New("empty response from model")

// Result is the outcome of one extraction. When Err is set, Fields holds the
// fallback mapping and Record its normalized form.
type Result struct {
	Fields event.Fields
	Record event.Record
	Issues []error
	Raw    string
	Err    error
}

// OK reports whether the model produced a parseable answer.
func (r Result) OK() bool { return r.Err == nil }

// Observer receives the outcome and latency of each extraction.
type Observer interface {
	ObserveExtraction(ok bool, elapsed time.Duration)
}

// Extractor wraps a provider with the event prompt and response parsing.
type Extractor struct {
	provider    llm.Provider
	logger      *slog.Logger
	links       *LinkFetcher
	observer    Observer
	now         func() time.Time
	temperature float64
	maxTokens   int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLinkFetcher enables page enrichment for bare-link messages.
func WithLinkFetcher(f *LinkFetcher) Option { return func(e *Extractor) { e.links = f } }

// WithObserver reports each extraction to o.
func WithObserver(o Observer) Option { return func(e *Extractor) { e.observer = o } }

// WithClock overrides the clock used for the "current month" hint.
func WithClock(now func() time.Time) Option { return func(e *Extractor) { e.now = now } }

// NewExtractor creates an Extractor. logger may be nil.
func NewExtractor(provider llm.Provider, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{
		provider:    provider,
		logger:      logger,
		now:         time.Now,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract analyzes text. It never fails: on any error the result carries the
// fallback fields together with the cause in Err. There is no retry.
func (e *Extractor) Extract(ctx context.Context, text string) Result {
	start := time.Now()
	res := e.extract(ctx, text)
	if e.observer != nil {
		e.observer.ObserveExtraction(res.OK(), time.Since(start))
	}
	return res
}

// ExtractWithLink is Extract for plain messages that carry a URL: when the
// text is little more than the link, the linked page is appended first.
func (e *Extractor) ExtractWithLink(ctx context.Context, text, link string) Result {
	if e.links != nil && link != "" && isBareLink(text, link) {
		if page, err := e.links.Fetch(ctx, link); err != nil {
			e.logger.Warn("link fetch failed", "url", link, "error", err)
		} else if page != "" {
			text = strings.TrimSpace(text) + "\n\n<링크 내용>\n" + page + "\n</링크 내용>"
		}
	}
	return e.Extract(ctx, text)
}

func (e *Extractor) extract(ctx context.Context, text string) Result {
	if e.provider == nil {
		return e.fallback(fmt.Errorf("no LLM provider configured"), "")
	}

	raw, err := e.provider.Complete(ctx, BuildEventPrompt(text, e.now()), llm.CompletionOpts{
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return e.fallback(fmt.Errorf("completion via %s: %w", e.provider.Name(), err), "")
	}

	fields, err := ParseFields(raw)
	if err != nil {
		return e.fallback(err, raw)
	}

	rec, issues := event.Normalize(fields)
	for _, issue := range issues {
		e.logger.Warn("dropping extracted value", "error", issue)
	}
	e.logger.Info("event extracted",
		"title", rec.Title,
		"project", rec.ProjectName,
		"start_date", event.FormatDate(rec.StartDate),
	)
	return Result{Fields: fields, Record: rec, Issues: issues, Raw: raw}
}

func (e *Extractor) fallback(cause error, raw string) Result {
	e.logger.Error("event extraction failed", "error", cause)
	fields := event.FallbackFields()
	rec, _ := event.Normalize(fields)
	return Result{Fields: fields, Record: rec, Raw: raw, Err: cause}
}

// ParseFields decodes a model reply into the field mapping, stripping a code
// fence when present.
func ParseFields(raw string) (event.Fields, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return event.Fields{}, ErrEmptyResponse
	}
	body = jsonObject(StripCodeFence(body))

	var fields event.Fields
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return event.Fields{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return fields, nil
}

// isBareLink reports whether text carries little besides link.
func isBareLink(text, link string) bool {
	rest := strings.TrimSpace(strings.Replace(text, link, "", 1))
	return len([]rune(rest)) < 40
}
