package gate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kibitzhq/kibitz/internal/queue"
)

// Poster delivers a released reply to its external thread. The YouTube
// implementation lives with the caller; tests use fakes.
type Poster interface {
	Post(ctx context.Context, env queue.Envelope) error
}

const (
	popTimeout  = 5 * time.Second
	maxAttempts = 5
)

// replyQueue is the slice of the outbound queue the worker needs.
type replyQueue interface {
	Push(ctx context.Context, env queue.Envelope) (queue.Envelope, error)
	Pop(ctx context.Context, timeout time.Duration) (queue.Envelope, bool, error)
}

// Outbox drains the outbound queue into a Poster, requeueing failed
// envelopes a bounded number of times.
type Outbox struct {
	queue  replyQueue
	poster Poster
	logger *slog.Logger
}

func NewOutbox(q replyQueue, poster Poster, logger *slog.Logger) *Outbox {
	return &Outbox{
		queue:  q,
		poster: poster,
		logger: logger.With("component", "outbox"),
	}
}

// Start blocks, delivering envelopes until ctx is cancelled.
func (o *Outbox) Start(ctx context.Context) error {
	o.logger.Info("outbox worker started")
	for {
		env, ok, err := o.queue.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				o.logger.Info("outbox worker stopped")
				return nil
			}
			o.logger.Error("outbox pop failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(popTimeout):
			}
			continue
		}
		if !ok {
			continue
		}
		o.deliver(ctx, env)
	}
}

// Drain delivers whatever is already queued, then returns. Used on
// shutdown and in tests.
func (o *Outbox) Drain(ctx context.Context) error {
	for {
		env, ok, err := o.queue.Pop(ctx, time.Millisecond)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		o.deliver(ctx, env)
	}
}

func (o *Outbox) deliver(ctx context.Context, env queue.Envelope) {
	err := o.poster.Post(ctx, env)
	if err == nil {
		o.logger.Info("reply posted", "envelope", env.ID, "thread", env.ThreadURL)
		return
	}

	env.Attempts++
	if env.Attempts >= maxAttempts {
		o.logger.Error("reply dropped after repeated failures",
			"envelope", env.ID,
			"thread", env.ThreadURL,
			"attempts", env.Attempts,
			"error", err)
		return
	}
	o.logger.Warn("reply post failed, requeueing",
		"envelope", env.ID,
		"attempts", env.Attempts,
		"error", err)
	if _, qerr := o.queue.Push(ctx, env); qerr != nil {
		o.logger.Error("requeue failed", "envelope", env.ID, "error", qerr)
	}
}
