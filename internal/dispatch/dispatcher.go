// Package dispatch routes inbound messages through the configured
// modules, ranks their candidate responses by confidence, resolves
// callback candidates and delivers exactly one reply per message. It
// also records the why-trace behind every outbound message so the
// assistant can explain itself afterwards.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/kibitzhq/kibitz/internal/chat"
	"github.com/kibitzhq/kibitz/internal/model"
	"github.com/kibitzhq/kibitz/internal/ratelimit"
	"github.com/kibitzhq/kibitz/internal/telemetry"
)

const (
	// maxRecursion bounds the resolution loop; it is the dispatcher's
	// only termination guarantee.
	maxRecursion = 30

	// callbackPenalty breaks confidence ties in favor of responses that
	// are already text over a future unknown. Applied at rank time only.
	callbackPenalty = 0.001

	recursionFallback = "...and I think my brain just melted. [strong smell of recursion]"

	errorChannelEvery = time.Minute
)

// ReactionHandler is a consumer that may claim a reaction before the
// modules see it. The reply gate is one.
type ReactionHandler interface {
	HandleReaction(ctx context.Context, r model.Reaction) (bool, error)
}

// Config carries the dispatcher's tunables.
type Config struct {
	// TestingMode disables the own-author filter and prefixes outbound
	// texts with a correlation marker.
	TestingMode bool

	// ErrorService/ErrorChannel name a chat channel that mirrors module
	// errors, rate limited. Empty disables mirroring.
	ErrorService model.Service
	ErrorChannel string

	// TickInterval drives the periodic Tick hooks.
	TickInterval time.Duration

	// Store receives explanation records for sent messages. Left nil,
	// the dispatcher creates its own. Injected when a module needs the
	// store before the dispatcher exists.
	Store *ExplanationStore
}

// Dispatcher is the arbitration core. One instance serves all services.
type Dispatcher struct {
	cfg      Config
	registry *chat.Registry
	modules  []Module
	gate     ReactionHandler
	store    *ExplanationStore
	timers   *ratelimit.Timers
	logger   *slog.Logger

	dispatched otelmetric.Int64Counter
	modErrors  otelmetric.Int64Counter

	mu      sync.Mutex
	queues  map[string][]*model.Message
	active  map[string]bool
	testSeq int64
}

// New builds a dispatcher over the given module list. Module order is
// the consultation order and the ranking tie-break.
func New(cfg Config, registry *chat.Registry, modules []Module, gate ReactionHandler, timers *ratelimit.Timers, logger *slog.Logger) *Dispatcher {
	meter := telemetry.Meter("kibitz/dispatch")
	dispatched, _ := meter.Int64Counter("kibitz.dispatch.messages")
	modErrors, _ := meter.Int64Counter("kibitz.dispatch.module_errors")

	store := cfg.Store
	if store == nil {
		store = NewExplanationStore()
	}

	return &Dispatcher{
		cfg:        cfg,
		registry:   registry,
		modules:    modules,
		gate:       gate,
		store:      store,
		timers:     timers,
		logger:     logger.With("component", "dispatch"),
		dispatched: dispatched,
		modErrors:  modErrors,
		queues:     make(map[string][]*model.Message),
		active:     make(map[string]bool),
	}
}

// Explanations exposes the why-trace store.
func (d *Dispatcher) Explanations() *ExplanationStore { return d.store }

// Enqueue appends a message to its channel's FIFO queue and starts a
// drain goroutine for that channel if none is running. Messages within
// one channel are dispatched in receive order; channels are independent.
func (d *Dispatcher) Enqueue(ctx context.Context, msg *model.Message) {
	key := msg.ChannelKey()

	d.mu.Lock()
	d.queues[key] = append(d.queues[key], msg)
	if d.active[key] {
		d.mu.Unlock()
		return
	}
	d.active[key] = true
	d.mu.Unlock()

	go d.drainChannel(ctx, key)
}

func (d *Dispatcher) drainChannel(ctx context.Context, key string) {
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			d.active[key] = false
			d.mu.Unlock()
			return
		}
		msg := q[0]
		d.queues[key] = q[1:]
		d.mu.Unlock()

		d.Dispatch(ctx, msg)
	}
}

// Dispatch runs the full collect/rank/resolve/deliver cycle for one
// message. It never returns an error: every failure mode is logged and
// absorbed, the caller has nothing useful to do with it.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *model.Message) {
	if d.dispatched != nil {
		d.dispatched.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("service", string(msg.Service))))
	}

	if d.registry.IsSelf(msg.Service, msg.Author) && !d.cfg.TestingMode {
		d.forwardOwnMessage(ctx, msg)
		return
	}

	tr := &Trace{}
	candidates := d.collect(ctx, msg, tr)
	// Default candidate so the ranking loop always has a bottom.
	candidates = append(candidates, candidate{order: len(d.modules)})

	winner, ok := d.resolve(ctx, msg, candidates, tr)
	if !ok {
		d.logger.Error("resolution exhausted recursion budget",
			"channel", msg.ChannelKey(),
			"message", msg.ID)
		winner = model.Response{Text: recursionFallback, Why: "resolution exceeded the recursion bound"}
		tr.Addf("recursion bound reached, sending fallback")
	}

	if !winner.HasPayload() {
		tr.Addf("winning response was empty, staying silent")
		d.logger.Debug("no reply", "channel", msg.ChannelKey(), "message", msg.ID)
		return
	}
	d.deliver(ctx, msg, winner, tr)
}

func (d *Dispatcher) forwardOwnMessage(ctx context.Context, msg *model.Message) {
	for _, m := range d.modules {
		obs, ok := m.(OwnMessageObserver)
		if !ok {
			continue
		}
		func() {
			defer d.recovered(ctx, m.Name(), "on_own_message")
			obs.OnOwnMessage(ctx, msg)
		}()
	}
}

type candidate struct {
	resp  model.Response
	order int
}

// effective is the rank-time confidence, with the callback penalty.
func (c candidate) effective() float64 {
	if c.resp.Callback != nil && !c.resp.HasPayload() {
		return c.resp.Confidence - callbackPenalty
	}
	return c.resp.Confidence
}

// collect asks every module for a candidate, in order, isolating
// failures.
func (d *Dispatcher) collect(ctx context.Context, msg *model.Message, tr *Trace) []candidate {
	var out []candidate
	for i, m := range d.modules {
		if !moduleAllowed(msg.Modules, m.Name()) {
			continue
		}
		tr.Addf("asked module %s", m.Name())

		resp, err := d.safeProcess(ctx, m, msg)
		if err != nil {
			tr.Addf("module %s failed: %v", m.Name(), err)
			d.reportModuleError(ctx, m.Name(), err)
			continue
		}
		if resp.Empty() {
			continue
		}
		resp.Module = m.Name()
		tr.Addf("module %s returned confidence %.3f", m.Name(), resp.Confidence)
		out = append(out, candidate{resp: resp, order: i})
	}
	return out
}

// moduleAllowed applies the message's module restriction; an empty
// restriction allows everything.
func moduleAllowed(allowed []string, name string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == name {
			return true
		}
	}
	return false
}

func (d *Dispatcher) safeProcess(ctx context.Context, m Module, msg *model.Message) (resp model.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = model.Response{}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.ProcessMessage(ctx, msg)
}

// resolve repeatedly takes the highest-confidence candidate, invoking
// callbacks until one yields concrete content. Returns false if the
// recursion budget runs out first.
func (d *Dispatcher) resolve(ctx context.Context, msg *model.Message, candidates []candidate, tr *Trace) (model.Response, bool) {
	for round := 0; round < maxRecursion; round++ {
		if len(candidates) == 0 {
			return model.Response{}, true
		}
		sort.SliceStable(candidates, func(a, b int) bool {
			ca, cb := candidates[a], candidates[b]
			if ca.effective() != cb.effective() {
				return ca.effective() > cb.effective()
			}
			return ca.order < cb.order
		})

		top := candidates[0]
		candidates = candidates[1:]
		tr.Addf("top response from %s at confidence %.3f", moduleLabel(top.resp), top.resp.Confidence)

		if top.resp.HasPayload() || top.resp.Callback == nil {
			return top.resp, true
		}

		next, err := d.invokeCallback(ctx, top.resp)
		if err != nil {
			tr.Addf("callback from %s failed: %v", moduleLabel(top.resp), err)
			d.reportModuleError(ctx, top.resp.Module, err)
			continue
		}
		next.Module = top.resp.Module
		tr.Addf("invoked callback of %s, got confidence %.3f", moduleLabel(top.resp), next.Confidence)
		candidates = append(candidates, candidate{resp: next, order: top.order})
	}
	return model.Response{}, false
}

func (d *Dispatcher) invokeCallback(ctx context.Context, resp model.Response) (next model.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = model.Response{}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return resp.Callback(ctx)
}

func moduleLabel(r model.Response) string {
	if r.Module == "" {
		return "default"
	}
	return r.Module
}

// deliver sends the winning response and records its provenance under
// every outbound message ID.
func (d *Dispatcher) deliver(ctx context.Context, msg *model.Message, resp model.Response, tr *Trace) {
	svc, err := d.registry.Lookup(msg.Service)
	if err != nil {
		d.logger.Error("no adapter for delivery", "service", msg.Service, "error", err)
		return
	}
	limit := svc.Profile().ChunkLimit

	var prefix string
	if d.cfg.TestingMode {
		d.mu.Lock()
		d.testSeq++
		prefix = fmt.Sprintf("TEST[%d] ", d.testSeq)
		d.mu.Unlock()
	}

	var sentIDs []string
	send := func(text string) bool {
		id, err := svc.SendMessage(ctx, msg.Channel.ID, prefix+text)
		if err != nil {
			d.logger.Error("send failed",
				"service", msg.Service,
				"channel", msg.Channel.ID,
				"error", err)
			return false
		}
		sentIDs = append(sentIDs, id)
		return true
	}

	switch {
	case resp.Embed != nil:
		id, err := svc.SendEmbed(ctx, msg.Channel.ID, resp.Embed, prefix+resp.Text)
		if err != nil {
			d.logger.Error("embed send failed",
				"service", msg.Service,
				"channel", msg.Channel.ID,
				"error", err)
			return
		}
		sentIDs = append(sentIDs, id)

	case resp.Stream != nil:
		for chunk := range resp.Stream {
			for _, piece := range chat.SplitChunks(chunk, limit) {
				if !send(piece) {
					break
				}
			}
		}

	case len(resp.Chunks) > 0:
		for _, chunk := range resp.Chunks {
			for _, piece := range chat.SplitChunks(chunk, limit) {
				if !send(piece) {
					break
				}
			}
		}

	default:
		for _, piece := range chat.SplitChunks(resp.Text, limit) {
			if !send(piece) {
				break
			}
		}
	}

	tr.Addf("sent %d message(s) via %s", len(sentIDs), msg.Service)
	for _, id := range sentIDs {
		d.store.Record(ExplanationRecord{
			MessageID:  id,
			ChannelKey: msg.ChannelKey(),
			Why:        resp.Why,
			Trace:      tr.Steps(),
		})
	}
	d.logger.Info("reply delivered",
		"service", msg.Service,
		"channel", msg.Channel.ID,
		"module", moduleLabel(resp),
		"chunks", len(sentIDs))
}

// OnReaction offers a reaction to the gate first, then to every module
// that observes reactions.
func (d *Dispatcher) OnReaction(ctx context.Context, r model.Reaction) {
	if d.gate != nil {
		handled, err := d.gate.HandleReaction(ctx, r)
		if err != nil {
			d.logger.Error("gate reaction failed", "emoji", r.Emoji, "error", err)
		}
		if handled {
			return
		}
	}
	for _, m := range d.modules {
		obs, ok := m.(ReactionObserver)
		if !ok {
			continue
		}
		if err := obs.OnReaction(ctx, r); err != nil {
			d.reportModuleError(ctx, m.Name(), err)
		}
	}
}

// RunTicks drives the periodic hooks until ctx is cancelled.
func (d *Dispatcher) RunTicks(ctx context.Context) error {
	interval := d.cfg.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, m := range d.modules {
				t, ok := m.(Ticker)
				if !ok {
					continue
				}
				func() {
					defer d.recovered(ctx, m.Name(), "tick")
					t.Tick(ctx)
				}()
			}
		}
	}
}

func (d *Dispatcher) recovered(ctx context.Context, module, hook string) {
	if r := recover(); r != nil {
		d.reportModuleError(ctx, module, fmt.Errorf("%s panic: %v", hook, r))
	}
}

// reportModuleError logs the failure and mirrors it to the configured
// error channel, throttled so a crash-looping module cannot flood chat.
func (d *Dispatcher) reportModuleError(ctx context.Context, module string, err error) {
	d.logger.Error("module error", "module", module, "error", err)
	if d.modErrors != nil {
		d.modErrors.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("module", module)))
	}

	if d.cfg.ErrorChannel == "" {
		return
	}
	if d.timers.Limited("error-channel", errorChannelEvery) {
		return
	}
	svc, lerr := d.registry.Lookup(d.cfg.ErrorService)
	if lerr != nil {
		return
	}
	text := fmt.Sprintf("module %s hit an error: %v", module, err)
	if _, serr := svc.SendMessage(ctx, d.cfg.ErrorChannel, text); serr != nil {
		d.logger.Error("error channel send failed", "error", serr)
	}
}
