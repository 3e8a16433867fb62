// Package gate holds assistant-drafted replies to external threads until
// enough approval stamps accrue. Each draft is announced as a chat
// message; reactions on that message approve or veto it. Approval weight
// comes from the stamp engine, and the release threshold scales with the
// size of the vote graph, so a draft needs proportionally more backing
// as the community grows.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/kibitzhq/kibitz/internal/model"
	"github.com/kibitzhq/kibitz/internal/queue"
	"github.com/kibitzhq/kibitz/internal/telemetry"
)

// State of a draft. Pending drafts accept reactions; Sent and Vetoed are
// terminal.
type State int

const (
	Pending State = iota
	Sent
	Vetoed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Sent:
		return "sent"
	case Vetoed:
		return "vetoed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Origin locates the announcement message whose reactions control a
// draft.
type Origin struct {
	Service   model.Service
	ChannelID string
	MessageID string
}

// Draft is one outbound reply waiting for approval.
type Draft struct {
	ID        uuid.UUID
	Text      string
	ThreadURL string
	Author    model.User
	Origin    Origin
	CreatedAt time.Time

	// mu serializes approvals, vetoes and the state transition, so a
	// racing approval and veto produce exactly one outcome.
	mu        sync.Mutex
	state     State
	approvers map[string]model.User
}

// State reads the draft state under its lock.
func (d *Draft) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Approvers returns the current distinct approver count.
func (d *Draft) Approvers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.approvers)
}

// Scores is the read surface the gate needs from the stamp engine.
type Scores interface {
	StampValue(userID string) float64
	TotalVotes() int64
}

// Sender enqueues a released draft for external posting.
type Sender interface {
	Push(ctx context.Context, env queue.Envelope) (queue.Envelope, error)
}

// Threads marks the external thread replied once its draft is released.
type Threads interface {
	MarkReplied(ctx context.Context, url string) error
}

// Reactor places the sent-marker reaction on a released announcement.
type Reactor interface {
	React(ctx context.Context, service model.Service, channelID, messageID, emoji string) error
}

// Config carries the gate's tunables.
type Config struct {
	// Ratio of the graph's total votes an approval sum must reach.
	Ratio float64
	// Reactions counted as approval, normally the stamp emojis.
	ApproveEmojis []string
	// Reaction that vetoes a pending draft.
	VetoEmoji string
	// Reaction the gate adds to an announcement once the draft is sent.
	SentEmoji string
	// Roles allowed to veto.
	VetoRoles []string
}

// Gate tracks pending drafts in memory.
type Gate struct {
	cfg     Config
	scores  Scores
	sender  Sender
	threads Threads
	reactor Reactor
	logger  *slog.Logger

	transitions otelmetric.Int64Counter

	mu     sync.Mutex
	drafts map[Origin]*Draft
}

func New(cfg Config, scores Scores, sender Sender, threads Threads, reactor Reactor, logger *slog.Logger) *Gate {
	meter := telemetry.Meter("kibitz/gate")
	transitions, _ := meter.Int64Counter("kibitz.gate.transitions")

	return &Gate{
		cfg:         cfg,
		scores:      scores,
		sender:      sender,
		threads:     threads,
		reactor:     reactor,
		logger:      logger.With("component", "gate"),
		transitions: transitions,
		drafts:      make(map[Origin]*Draft),
	}
}

func (g *Gate) recordTransition(state State) {
	if g.transitions != nil {
		g.transitions.Add(context.Background(), 1, otelmetric.WithAttributes(
			attribute.String("state", state.String())))
	}
}

// Threshold is the approval weight a draft currently needs.
func (g *Gate) Threshold() float64 {
	return float64(g.scores.TotalVotes()) * g.cfg.Ratio
}

// Propose registers a new pending draft. The author counts as an
// approver exactly once, which can release the draft immediately when
// their own stamp weight already clears the threshold.
func (g *Gate) Propose(ctx context.Context, author model.User, text, threadURL string, origin Origin) (*Draft, error) {
	d := &Draft{
		ID:        uuid.New(),
		Text:      text,
		ThreadURL: threadURL,
		Author:    author,
		Origin:    origin,
		CreatedAt: time.Now().UTC(),
		approvers: map[string]model.User{author.ID: author},
	}

	g.mu.Lock()
	g.drafts[origin] = d
	g.mu.Unlock()

	g.logger.Info("draft proposed",
		"draft", d.ID,
		"author", author.ID,
		"thread", threadURL)

	if err := g.evaluate(ctx, d); err != nil {
		return d, err
	}
	return d, nil
}

// Lookup finds the pending or settled draft for an announcement message.
func (g *Gate) Lookup(origin Origin) (*Draft, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.drafts[origin]
	return d, ok
}

// HandleReaction routes a reaction to the draft it targets, if any.
// Returns false when the reaction is not on a draft announcement, so the
// caller can offer it to other reaction consumers.
func (g *Gate) HandleReaction(ctx context.Context, r model.Reaction) (bool, error) {
	origin := Origin{Service: r.Service, ChannelID: r.ChannelID, MessageID: r.MessageID}
	d, ok := g.Lookup(origin)
	if !ok {
		return false, nil
	}

	switch {
	case r.Emoji == g.cfg.VetoEmoji && r.Added:
		if !r.Reactor.HasRole(g.cfg.VetoRoles...) {
			g.logger.Debug("veto ignored, reactor lacks role", "draft", d.ID, "user", r.Reactor.ID)
			return true, nil
		}
		g.veto(d, r.Reactor)
		return true, nil

	case g.isApprove(r.Emoji):
		if r.Added {
			return true, g.approve(ctx, d, r.Reactor)
		}
		g.unapprove(d, r.Reactor)
		return true, nil
	}
	return true, nil
}

func (g *Gate) isApprove(emoji string) bool {
	for _, e := range g.cfg.ApproveEmojis {
		if e == emoji {
			return true
		}
	}
	return false
}

func (g *Gate) approve(ctx context.Context, d *Draft, u model.User) error {
	d.mu.Lock()
	if d.state != Pending {
		d.mu.Unlock()
		return nil
	}
	// Zero-weight approvers are recorded even though they cannot move
	// the sum; their weight may rise before the next approval.
	d.approvers[u.ID] = u
	d.mu.Unlock()

	g.logger.Info("draft approved", "draft", d.ID, "user", u.ID)
	return g.evaluate(ctx, d)
}

func (g *Gate) unapprove(d *Draft, u model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Pending {
		return
	}
	// The author's implicit approval is not retractable.
	if u.ID == d.Author.ID {
		return
	}
	delete(d.approvers, u.ID)
}

func (g *Gate) veto(d *Draft, u model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Pending {
		return
	}
	d.state = Vetoed
	g.recordTransition(Vetoed)
	g.logger.Info("draft vetoed", "draft", d.ID, "user", u.ID)
}

// evaluate sums approver stamp weight against the current threshold and
// releases the draft at most once.
func (g *Gate) evaluate(ctx context.Context, d *Draft) error {
	d.mu.Lock()
	if d.state != Pending {
		d.mu.Unlock()
		return nil
	}
	var sum float64
	for id := range d.approvers {
		sum += g.scores.StampValue(id)
	}
	threshold := g.Threshold()
	if sum < threshold {
		d.mu.Unlock()
		g.logger.Debug("draft below threshold",
			"draft", d.ID,
			"approval", sum,
			"threshold", threshold)
		return nil
	}
	d.state = Sent
	d.mu.Unlock()
	g.recordTransition(Sent)

	return g.release(ctx, d, sum, threshold)
}

func (g *Gate) release(ctx context.Context, d *Draft, sum, threshold float64) error {
	env, err := g.sender.Push(ctx, queue.Envelope{
		ID:        d.ID,
		ThreadURL: d.ThreadURL,
		Text:      d.Text,
	})
	if err != nil {
		return fmt.Errorf("enqueue draft %s: %w", d.ID, err)
	}

	if g.threads != nil {
		if err := g.threads.MarkReplied(ctx, d.ThreadURL); err != nil {
			g.logger.Warn("mark thread replied failed", "thread", d.ThreadURL, "error", err)
		}
	}
	if g.reactor != nil && g.cfg.SentEmoji != "" {
		if err := g.reactor.React(ctx, d.Origin.Service, d.Origin.ChannelID, d.Origin.MessageID, g.cfg.SentEmoji); err != nil {
			g.logger.Warn("sent marker reaction failed", "draft", d.ID, "error", err)
		}
	}

	g.logger.Info("draft released",
		"draft", d.ID,
		"envelope", env.ID,
		"approval", sum,
		"threshold", threshold)
	return nil
}
