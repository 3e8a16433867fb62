package modules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kibitzhq/kibitz/internal/chat"
	"github.com/kibitzhq/kibitz/internal/gate"
	"github.com/kibitzhq/kibitz/internal/model"
	"github.com/kibitzhq/kibitz/internal/ratelimit"
	"github.com/kibitzhq/kibitz/internal/storage"
)

const (
	qaAnnounceEvery = 5 * time.Minute
	qaFetchTimeout  = 10 * time.Second

	draftAck = "Ok, I'll post that reply once it has enough stamps."
)

// QA surfaces unanswered external comment threads into a chat channel
// and turns "post this reply" commands into gated drafts.
//
// The tick hook announces at most one unasked thread per interval. When
// a user later replies with a draft, the module remembers which thread
// was last announced in that channel and proposes the draft to the reply
// gate; the proposing message itself is what approvers stamp.
type QA struct {
	db       *storage.DB
	gate     *gate.Gate
	timers   *ratelimit.Timers
	registry *chat.Registry
	logger   *slog.Logger

	announceService model.Service
	announceChannel string

	mu         sync.Mutex
	lastThread map[string]storage.QAThread // channel key -> last announced
}

func NewQA(db *storage.DB, g *gate.Gate, timers *ratelimit.Timers, registry *chat.Registry, announceService model.Service, announceChannel string, logger *slog.Logger) *QA {
	return &QA{
		db:              db,
		gate:            g,
		timers:          timers,
		registry:        registry,
		logger:          logger.With("component", "qa"),
		announceService: announceService,
		announceChannel: announceChannel,
		lastThread:      make(map[string]storage.QAThread),
	}
}

func (q *QA) Name() string { return "qa" }

// Tick announces the next unasked thread, self-throttled.
func (q *QA) Tick(ctx context.Context) {
	if q.announceChannel == "" {
		return
	}
	if q.timers.Limited("qa-announce", qaAnnounceEvery) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, qaFetchTimeout)
	defer cancel()

	threads, err := q.db.UnaskedThreads(ctx, 1)
	if err != nil {
		q.logger.Error("fetch unasked threads failed", "error", err)
		return
	}
	if len(threads) == 0 {
		return
	}
	q.announce(ctx, threads[0])
}

func (q *QA) announce(ctx context.Context, t storage.QAThread) {
	svc, err := q.registry.Lookup(q.announceService)
	if err != nil {
		q.logger.Error("announce channel unavailable", "error", err)
		return
	}

	text := renderThread(t, svc.Profile())
	if _, err := svc.SendMessage(ctx, q.announceChannel, text); err != nil {
		q.logger.Error("announce failed", "thread", t.URL, "error", err)
		return
	}
	if err := q.db.MarkAsked(ctx, t.URL); err != nil {
		q.logger.Error("mark asked failed", "thread", t.URL, "error", err)
	}

	key := string(q.announceService) + "/" + q.announceChannel
	q.mu.Lock()
	q.lastThread[key] = t
	q.mu.Unlock()

	q.logger.Info("question announced", "thread", t.URL)
}

func (q *QA) ProcessMessage(ctx context.Context, msg *model.Message) (model.Response, error) {
	if !msg.Addressed {
		return model.Response{}, nil
	}
	query := strings.TrimSpace(msg.Query)
	lower := strings.ToLower(query)

	switch {
	case strings.HasPrefix(lower, "post this reply:"):
		draft := strings.TrimSpace(query[len("post this reply:"):])
		return q.proposeDraft(ctx, msg, draft)

	case lower == "next question":
		// Fetching hits the database, so defer it into a callback.
		return model.Response{
			Confidence: 9,
			Why:        "next question requested",
			Callback: func(ctx context.Context) (model.Response, error) {
				return q.nextQuestion(ctx, msg.Service, msg.ChannelKey())
			},
		}, nil
	}
	return model.Response{}, nil
}

func (q *QA) proposeDraft(ctx context.Context, msg *model.Message, draft string) (model.Response, error) {
	if draft == "" {
		return model.Response{
			Confidence: 9,
			Text:       "Post what, exactly? Give me some text after the colon.",
			Why:        "empty draft",
		}, nil
	}

	q.mu.Lock()
	thread, ok := q.lastThread[msg.ChannelKey()]
	q.mu.Unlock()
	if !ok {
		return model.Response{
			Confidence: 9,
			Text:       "I don't have a question thread open in this channel.",
			Why:        "no announced thread to reply to",
		}, nil
	}

	origin := gate.Origin{Service: msg.Service, ChannelID: msg.Channel.ID, MessageID: msg.ID}
	if _, err := q.gate.Propose(ctx, msg.Author, draft, thread.URL, origin); err != nil {
		return model.Response{}, fmt.Errorf("propose draft: %w", err)
	}
	return model.Response{
		Confidence: 10,
		Text:       draftAck,
		Why:        fmt.Sprintf("draft proposed for %s", thread.URL),
	}, nil
}

func (q *QA) nextQuestion(ctx context.Context, service model.Service, channelKey string) (model.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, qaFetchTimeout)
	defer cancel()

	threads, err := q.db.UnaskedThreads(ctx, 1)
	if err != nil {
		return model.Response{}, fmt.Errorf("fetch unasked threads: %w", err)
	}
	if len(threads) == 0 {
		return model.Response{
			Confidence: 10,
			Text:       "There are no unasked questions in the queue.",
			Why:        "question queue empty",
		}, nil
	}

	t := threads[0]
	if err := q.db.MarkAsked(ctx, t.URL); err != nil {
		return model.Response{}, fmt.Errorf("mark asked: %w", err)
	}

	// Remember where the question landed so a later draft targets it.
	q.mu.Lock()
	q.lastThread[channelKey] = t
	q.mu.Unlock()

	return model.Response{
		Confidence: 10,
		Text:       renderThread(t, q.profileFor(service)),
		Why:        "next question from the queue",
	}, nil
}

// renderThread formats a question announcement, emphasizing the title
// with the service's italics marker when it has one.
func renderThread(t storage.QAThread, p model.FormatProfile) string {
	return fmt.Sprintf("%s asks: %s\n%s", t.Username, p.Italicize(t.Title), t.URL)
}

func (q *QA) profileFor(service model.Service) model.FormatProfile {
	svc, err := q.registry.Lookup(service)
	if err != nil {
		return model.FormatProfile{}
	}
	return svc.Profile()
}
