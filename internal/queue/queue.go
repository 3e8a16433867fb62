// Package queue provides the durable outbound-reply queue backed by a
// Redis list. Drafts released by the reply gate are pushed here and a
// posting worker drains them, so an approved reply survives a restart
// between release and delivery.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Envelope is one approved reply awaiting external delivery.
type Envelope struct {
	ID        uuid.UUID `json:"id"`
	ThreadURL string    `json:"thread_url"`
	Text      string    `json:"text"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// Outbound is a FIFO queue of envelopes on a single Redis list key.
type Outbound struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

func NewOutbound(client *redis.Client, key string, logger *slog.Logger) *Outbound {
	return &Outbound{
		client: client,
		key:    key,
		logger: logger.With("component", "queue"),
	}
}

// Push enqueues an envelope, assigning an ID and timestamp if unset.
func (q *Outbound) Push(ctx context.Context, env Envelope) (Envelope, error) {
	if env.ID == uuid.Nil {
		env.ID = uuid.New()
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal envelope: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return Envelope{}, fmt.Errorf("push envelope: %w", err)
	}
	q.logger.Debug("envelope queued", "id", env.ID, "thread", env.ThreadURL)
	return env, nil
}

// Pop blocks up to timeout for the next envelope. A false second return
// means the wait timed out with the queue empty.
func (q *Outbound) Pop(ctx context.Context, timeout time.Duration) (Envelope, bool, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return Envelope{}, false, nil
	}
	if err != nil {
		return Envelope{}, false, fmt.Errorf("pop envelope: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return Envelope{}, false, fmt.Errorf("pop envelope: unexpected reply of %d elements", len(res))
	}
	var env Envelope
	if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
		return Envelope{}, false, fmt.Errorf("decode envelope: %w", err)
	}
	return env, true, nil
}

// Len reports the number of queued envelopes.
func (q *Outbound) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}
