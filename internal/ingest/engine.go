// Package ingest runs one inbound message through extraction, the duplicate
// check and the store write, and records the outcome.
package ingest

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hurttlocker/eventbot/internal/event"
	"github.com/hurttlocker/eventbot/internal/extract"
	"github.com/hurttlocker/eventbot/internal/reconcile"
	"github.com/hurttlocker/eventbot/internal/store"
)

// Inbound is a message reduced to what the pipeline needs.
type Inbound struct {
	UpdateID  int64
	ChatID    int64
	MessageID int64
	Text      string
	// SourceURL is the derived link or one of the event sentinels.
	SourceURL string
	Forwarded bool
}

// OutcomeKind classifies how a message ended.
type OutcomeKind string

const (
	OutcomeSaved     OutcomeKind = "saved"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeSkipped   OutcomeKind = "skipped"
)

// Outcome is the result of Process.
type Outcome struct {
	Kind       OutcomeKind
	RequestID  string
	SourceURL  string
	Record     event.Record
	Extraction extract.Result
	Match      reconcile.Match
	PageID     string
	Err        error
}

// Ledger stores one row per processed message.
type Ledger interface {
	RecordMessage(ctx context.Context, m *store.ProcessedMessage) error
}

// Observer counts outcomes.
type Observer interface {
	ObserveMessage(outcome string)
}

// Engine is the intake pipeline.
type Engine struct {
	extractor            *extract.Extractor
	reconciler           *reconcile.Reconciler
	ledger               Ledger
	observer             Observer
	logger               *slog.Logger
	skipOnExtractFailure bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLedger records every outcome in l.
func WithLedger(l Ledger) Option { return func(e *Engine) { e.ledger = l } }

// WithObserver reports every outcome to o.
func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// WithSkipOnExtractFailure stops the pipeline when extraction fails instead
// of saving the fallback record.
func WithSkipOnExtractFailure(skip bool) Option {
	return func(e *Engine) { e.skipOnExtractFailure = skip }
}

// NewEngine creates an Engine.
func NewEngine(extractor *extract.Extractor, reconciler *reconcile.Reconciler, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{extractor: extractor, reconciler: reconciler, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process extracts an event from in, skips it when it is already stored and
// saves it otherwise. It never returns an error: failures end up in the
// Outcome.
func (e *Engine) Process(ctx context.Context, in Inbound) Outcome {
	out := Outcome{RequestID: uuid.NewString(), SourceURL: in.SourceURL}
	log := e.logger.With("request_id", out.RequestID, "chat_id", in.ChatID, "message_id", in.MessageID)
	log.Info("processing message", "forwarded", in.Forwarded, "source_url", in.SourceURL)

	link := event.NormalizeURL(in.SourceURL)
	if !in.Forwarded && link != "" {
		out.Extraction = e.extractor.ExtractWithLink(ctx, in.Text, link)
	} else {
		out.Extraction = e.extractor.Extract(ctx, in.Text)
	}
	out.Record = out.Extraction.Record

	switch {
	case !out.Extraction.OK() && e.skipOnExtractFailure:
		out.Kind = OutcomeSkipped
		out.Err = out.Extraction.Err
	default:
		if !out.Extraction.OK() {
			log.Warn("saving fallback record", "error", out.Extraction.Err)
		}
		dec := e.reconciler.Reconcile(ctx, in.SourceURL, out.Record)
		switch {
		case dec.Duplicate:
			out.Kind = OutcomeDuplicate
			out.Match = dec.Match
		case dec.Err != nil:
			out.Kind = OutcomeFailed
			out.Err = dec.Err
		default:
			out.Kind = OutcomeSaved
			out.PageID = dec.PageID
		}
	}

	log.Info("message processed", "outcome", out.Kind, "page_id", out.PageID)
	e.record(ctx, log, in, out)
	return out
}

func (e *Engine) record(ctx context.Context, log *slog.Logger, in Inbound, out Outcome) {
	if e.observer != nil {
		e.observer.ObserveMessage(string(out.Kind))
	}
	if e.ledger == nil {
		return
	}
	row := &store.ProcessedMessage{
		RequestID: out.RequestID,
		UpdateID:  in.UpdateID,
		ChatID:    in.ChatID,
		MessageID: in.MessageID,
		SourceURL: strings.TrimSpace(in.SourceURL),
		Outcome:   string(out.Kind),
		PageID:    out.PageID,
		Title:     out.Record.DisplayTitle(),
	}
	if out.Kind == OutcomeDuplicate {
		row.PageID = out.Match.ID
	}
	if out.Err != nil {
		row.Error = out.Err.Error()
	}
	if err := e.ledger.RecordMessage(ctx, row); err != nil {
		log.Warn("ledger write failed", "error", err)
	}
}
