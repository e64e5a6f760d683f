// Package bot runs the Telegram update loop: it acknowledges each message,
// hands it to the intake pipeline and edits the acknowledgment into the
// result.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hurttlocker/eventbot/internal/connect"
	"github.com/hurttlocker/eventbot/internal/ingest"
)

const (
	defaultPollTimeout = 30 * time.Second
	maxBackoff         = 30 * time.Second
)

// Client is the part of the Bot API the loop uses.
type Client interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]connect.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) (*connect.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
}

// Processor runs one message through the pipeline.
type Processor interface {
	Process(ctx context.Context, in ingest.Inbound) ingest.Outcome
}

// Offsets persists the last handled update ID.
type Offsets interface {
	LastUpdateID(ctx context.Context) (int64, error)
	SetLastUpdateID(ctx context.Context, id int64) error
}

// Bot handles updates one at a time.
type Bot struct {
	client      Client
	processor   Processor
	offsets     Offsets
	logger      *slog.Logger
	pollTimeout time.Duration
}

// Option configures a Bot.
type Option func(*Bot)

// WithOffsets resumes from and saves the update offset in o.
func WithOffsets(o Offsets) Option { return func(b *Bot) { b.offsets = o } }

// WithPollTimeout sets the long-poll wait.
func WithPollTimeout(d time.Duration) Option { return func(b *Bot) { b.pollTimeout = d } }

// New creates a Bot.
func New(client Client, processor Processor, logger *slog.Logger, opts ...Option) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bot{client: client, processor: processor, logger: logger, pollTimeout: defaultPollTimeout}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run polls until ctx is cancelled. Poll errors are retried with backoff.
func (b *Bot) Run(ctx context.Context) error {
	var offset int64
	if b.offsets != nil {
		last, err := b.offsets.LastUpdateID(ctx)
		if err != nil {
			b.logger.Warn("reading update offset failed", "error", err)
		} else if last > 0 {
			offset = last + 1
		}
	}
	b.logger.Info("bot started", "offset", offset)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := b.client.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			b.logger.Error("polling updates failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		for _, upd := range updates {
			b.HandleUpdate(ctx, upd)
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			if b.offsets != nil {
				if err := b.offsets.SetLastUpdateID(ctx, upd.UpdateID); err != nil {
					b.logger.Warn("saving update offset failed", "error", err)
				}
			}
		}
	}
}

// HandleUpdate answers /start and runs accepted messages through the
// pipeline, replying with a processing notice that is edited into the result.
func (b *Bot) HandleUpdate(ctx context.Context, upd connect.Update) {
	msg := upd.Message
	if msg == nil {
		return
	}
	chatID := msg.Chat.ID

	if command(msg) == "start" {
		if _, err := b.client.SendMessage(ctx, chatID, HelpText); err != nil {
			b.logger.Error("sending help failed", "chat_id", chatID, "error", err)
		}
		return
	}
	if !accepts(msg) {
		return
	}

	ack, err := b.client.SendMessage(ctx, chatID, ProcessingText)
	if err != nil {
		b.logger.Error("sending acknowledgment failed", "chat_id", chatID, "error", err)
	}

	out := b.processor.Process(ctx, Inbound(upd.UpdateID, msg))
	reply := Reply(out)

	if ack != nil {
		err := b.client.EditMessageText(ctx, chatID, ack.MessageID, reply)
		if err == nil {
			return
		}
		b.logger.Warn("editing acknowledgment failed", "chat_id", chatID, "error", err)
	}
	if _, err := b.client.SendMessage(ctx, chatID, reply); err != nil {
		b.logger.Error("sending reply failed", "chat_id", chatID, "error", err)
	}
}
