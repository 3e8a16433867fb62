// Package kibitz is the embeddable core of the kibitz assistant: a
// multi-service dispatcher that collects candidate replies from
// pluggable modules, ranks them by confidence, and delivers the winner
// back to the originating chat service.
//
// The embedding application owns the platform connections. It feeds
// native Discord and Slack events in through the Ingest methods and
// implements the wire transports; kibitz owns everything between:
// addressing detection, dispatch ordering, the stamp-based trust graph,
// the approval gate in front of outbound thread replies, and the HTTP
// front door.
//
// Minimal usage:
//
//	app, err := kibitz.New(ctx,
//		kibitz.WithDiscord(transport, self),
//		kibitz.WithModule(myModule),
//	)
//	if err != nil {
//		return err
//	}
//	return app.Run(ctx)
package kibitz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kibitzhq/kibitz/internal/auth"
	"github.com/kibitzhq/kibitz/internal/chat"
	"github.com/kibitzhq/kibitz/internal/config"
	"github.com/kibitzhq/kibitz/internal/dispatch"
	"github.com/kibitzhq/kibitz/internal/gate"
	"github.com/kibitzhq/kibitz/internal/model"
	"github.com/kibitzhq/kibitz/internal/modules"
	"github.com/kibitzhq/kibitz/internal/queue"
	"github.com/kibitzhq/kibitz/internal/ratelimit"
	"github.com/kibitzhq/kibitz/internal/server"
	"github.com/kibitzhq/kibitz/internal/stamps"
	"github.com/kibitzhq/kibitz/internal/storage"
	"github.com/kibitzhq/kibitz/internal/telemetry"
	"github.com/kibitzhq/kibitz/migrations"
)

const shutdownTimeout = 10 * time.Second

// App is a fully assembled kibitz instance. Construct with New, start
// with Run, and feed platform events through the Ingest methods.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	db     *storage.DB
	rdb    *redis.Client
	queue  *queue.Outbound
	outbox *gate.Outbox

	engine     *stamps.Engine
	gate       *gate.Gate
	dispatcher *dispatch.Dispatcher

	registry *chat.Registry
	front    *chat.HTTPFront
	discord  *chat.Discord
	slack    *chat.Slack

	srv          *server.Server
	otelShutdown telemetry.Shutdown
}

// New assembles an App from the environment plus the given options.
// It opens the database and Redis connections, runs pending schema
// migrations, and loads the vote graph, so a non-nil App is ready to
// serve as soon as Run is called.
func New(ctx context.Context, opts ...Option) (*App, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	o := resolveOptions(opts)
	applyOverrides(&cfg, o)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		}))
	}

	app := &App{cfg: cfg, logger: logger}

	if cfg.OTELEndpoint != "" {
		shutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, o.version, true)
		if err != nil {
			return nil, fmt.Errorf("kibitz: init telemetry: %w", err)
		}
		app.otelShutdown = shutdown
	}

	db, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	app.db = db
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, err
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kibitz: parse redis url: %w", err)
	}
	app.rdb = redis.NewClient(redisOpts)
	app.queue = queue.NewOutbound(app.rdb, cfg.QueueKey, logger)

	app.front = chat.NewHTTPFront(cfg.Handle)
	services := []chat.Service{app.front}
	if o.discordTransport != nil {
		app.discord = chat.NewDiscord(discordTransport{o.discordTransport},
			discordSelfUser(o.discordSelf), cfg.Handle, logger)
		services = append(services, app.discord)
	}
	if o.slackTransport != nil {
		app.slack = chat.NewSlack(slackTransport{o.slackTransport},
			slackSelfUser(o.slackSelf), cfg.Handle, logger)
		services = append(services, app.slack)
	}
	app.registry = chat.NewRegistry(services...)

	app.engine = stamps.NewEngine(db, cfg.RootUserID, cfg.SeedUserID, cfg.Handle, cfg.StampGamma, logger)
	if err := app.engine.Load(ctx); err != nil {
		app.close()
		return nil, err
	}

	app.gate = gate.New(gate.Config{
		Ratio:         cfg.GateRatio,
		ApproveEmojis: []string{cfg.ApproveEmoji, cfg.GoldEmoji},
		VetoEmoji:     cfg.VetoEmoji,
		SentEmoji:     cfg.SentEmoji,
		VetoRoles:     cfg.VetoRoles,
	}, app.engine, app.queue, db, registryReactor{app.registry}, logger)

	if o.poster != nil {
		app.outbox = gate.NewOutbox(app.queue, posterAdapter{o.poster}, logger)
	}

	store := dispatch.NewExplanationStore()
	timers := ratelimit.NewTimers()
	mods := []dispatch.Module{
		modules.NewWhy(store),
		modules.NewStamps(app.engine, app.registry, cfg.ApproveEmoji, cfg.GoldEmoji),
		modules.NewQA(db, app.gate, timers, app.registry,
			model.Service(cfg.AnnounceService), cfg.AnnounceChannel, logger),
	}
	for _, m := range o.modules {
		mods = append(mods, moduleAdapter{m})
	}

	app.dispatcher = dispatch.New(dispatch.Config{
		TestingMode:  cfg.TestingMode,
		ErrorService: model.Service(cfg.ErrorService),
		ErrorChannel: cfg.ErrorChannel,
		TickInterval: cfg.TickInterval,
		Store:        store,
	}, app.registry, mods, app.gate, timers, logger)

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		app.close()
		return nil, err
	}

	names := make([]string, 0, len(mods))
	for _, m := range mods {
		names = append(names, m.Name())
	}
	app.srv = server.New(server.Config{
		Front:        app.front,
		Dispatcher:   app.dispatcher,
		JWTMgr:       jwtMgr,
		Logger:       logger,
		Keys:         cfg.FrontDoorKeys,
		ModuleNames:  names,
		Limiter:      ratelimit.NewMemoryLimiter(10, 30),
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Version:      o.version,
	})

	return app, nil
}

func applyOverrides(cfg *config.Config, o resolvedOptions) {
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseDriver != "" {
		cfg.DatabaseDriver = o.databaseDriver
		cfg.DatabaseURL = o.databaseURL
	}
	if o.redisURL != "" {
		cfg.RedisURL = o.redisURL
	}
	if o.handle != "" {
		cfg.Handle = o.handle
	}
	if o.gateRatio != 0 {
		cfg.GateRatio = o.gateRatio
	}
	if o.testingMode {
		cfg.TestingMode = true
	}
	for name, hash := range o.frontDoorKeys {
		if cfg.FrontDoorKeys == nil {
			cfg.FrontDoorKeys = make(map[string]string)
		}
		cfg.FrontDoorKeys[name] = hash
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully: the
// HTTP listener drains, the outbox worker delivers what is already
// queued, and connections close. Returns the first component error.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("kibitz starting",
		"handle", a.cfg.Handle, "port", a.cfg.Port, "testing_mode", a.cfg.TestingMode)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("kibitz: http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		return a.dispatcher.RunTicks(ctx)
	})
	if a.outbox != nil {
		eg.Go(func() error {
			return a.outbox.Start(ctx)
		})
	}
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})

	err := eg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if a.outbox != nil {
		if derr := a.outbox.Drain(drainCtx); derr != nil {
			a.logger.Error("outbox drain failed", "error", derr)
		}
	}
	if a.otelShutdown != nil {
		if terr := a.otelShutdown(drainCtx); terr != nil {
			a.logger.Error("telemetry shutdown failed", "error", terr)
		}
	}
	a.close()

	a.logger.Info("kibitz stopped")
	return err
}

func (a *App) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close failed", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("database close failed", "error", err)
		}
	}
}

// Handler exposes the HTTP front door for embedding in an existing
// server instead of running the built-in listener.
func (a *App) Handler() http.Handler { return a.srv.Handler() }

// IngestDiscordMessage feeds one Discord message event into dispatch.
// Safe to call from the gateway goroutine; dispatch happens on the
// channel's own queue.
func (a *App) IngestDiscordMessage(ctx context.Context, ev DiscordMessage) error {
	if a.discord == nil {
		return errors.New("kibitz: discord adapter not configured")
	}
	msg := a.discord.Translate(ctx, internalDiscordMessage(ev))
	a.dispatcher.Enqueue(ctx, msg)
	return nil
}

// IngestDiscordReaction feeds one Discord reaction event into the reply
// gate and the reaction-observing modules. added is false for removals.
func (a *App) IngestDiscordReaction(ctx context.Context, ev DiscordReaction, added bool) error {
	if a.discord == nil {
		return errors.New("kibitz: discord adapter not configured")
	}
	r, err := a.discord.TranslateReaction(ctx, internalDiscordReaction(ev), added)
	if err != nil {
		return err
	}
	a.dispatcher.OnReaction(ctx, r)
	return nil
}

// IngestSlackMessage feeds one Slack message event into dispatch.
func (a *App) IngestSlackMessage(ctx context.Context, ev SlackMessage) error {
	if a.slack == nil {
		return errors.New("kibitz: slack adapter not configured")
	}
	msg := a.slack.Translate(ctx, internalSlackMessage(ev))
	a.dispatcher.Enqueue(ctx, msg)
	return nil
}

// IngestSlackReaction feeds one Slack reaction event into the reply
// gate and the reaction-observing modules.
func (a *App) IngestSlackReaction(ctx context.Context, ev SlackReaction, added bool) error {
	if a.slack == nil {
		return errors.New("kibitz: slack adapter not configured")
	}
	r, err := a.slack.TranslateReaction(ctx, internalSlackReaction(ev), added)
	if err != nil {
		return err
	}
	a.dispatcher.OnReaction(ctx, r)
	return nil
}

// StampValue returns a user's current stamp value, their share of the
// trust graph scaled by its total votes.
func (a *App) StampValue(userID string) float64 { return a.engine.StampValue(userID) }

// HashKey produces the Argon2id encoding stored for an HTTP front-door
// client key, for use with WithFrontDoorKey.
func HashKey(key string) (string, error) { return auth.HashKey(key) }

// moduleAdapter bridges an external Module into the dispatch contract.
// It implements every optional hook and forwards each one only when the
// wrapped module does.
type moduleAdapter struct {
	m Module
}

func (a moduleAdapter) Name() string { return a.m.Name() }

func (a moduleAdapter) ProcessMessage(ctx context.Context, msg *model.Message) (model.Response, error) {
	resp, err := a.m.ProcessMessage(ctx, publicMessage(msg))
	if err != nil {
		return model.Response{}, err
	}
	return internalResponse(resp), nil
}

func (a moduleAdapter) OnReaction(ctx context.Context, r model.Reaction) error {
	obs, ok := a.m.(ReactionObserver)
	if !ok {
		return nil
	}
	return obs.OnReaction(ctx, Reaction{
		Service:       string(r.Service),
		ChannelID:     r.ChannelID,
		MessageID:     r.MessageID,
		Emoji:         r.Emoji,
		Reactor:       publicUser(r.Reactor),
		MessageAuthor: publicUser(r.MessageAuthor),
		Added:         r.Added,
	})
}

func (a moduleAdapter) Tick(ctx context.Context) {
	if t, ok := a.m.(Ticker); ok {
		t.Tick(ctx)
	}
}

// posterAdapter bridges a Poster into the outbox contract.
type posterAdapter struct {
	p Poster
}

func (a posterAdapter) Post(ctx context.Context, env queue.Envelope) error {
	return a.p.Post(ctx, OutboundReply{
		ID:        env.ID.String(),
		ThreadURL: env.ThreadURL,
		Text:      env.Text,
		CreatedAt: env.CreatedAt,
	})
}

// registryReactor routes the gate's sent-marker reactions through the
// service registry.
type registryReactor struct {
	registry *chat.Registry
}

func (r registryReactor) React(ctx context.Context, service model.Service, channelID, messageID, emoji string) error {
	svc, err := r.registry.Lookup(service)
	if err != nil {
		return err
	}
	return svc.React(ctx, channelID, messageID, emoji)
}

// discordTransport bridges the public wire interface into the chat
// adapter's, converting event structs at the boundary.
type discordTransport struct {
	t DiscordTransport
}

func (a discordTransport) CreateMessage(ctx context.Context, channelID, content string) (string, error) {
	return a.t.CreateMessage(ctx, channelID, content)
}

func (a discordTransport) CreateReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return a.t.CreateReaction(ctx, channelID, messageID, emoji)
}

func (a discordTransport) ChannelMessage(ctx context.Context, channelID, messageID string) (chat.DiscordMessage, error) {
	m, err := a.t.ChannelMessage(ctx, channelID, messageID)
	if err != nil {
		return chat.DiscordMessage{}, err
	}
	return internalDiscordMessage(m), nil
}

func (a discordTransport) ChannelMessages(ctx context.Context, channelID string, limit int) ([]chat.DiscordMessage, error) {
	msgs, err := a.t.ChannelMessages(ctx, channelID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]chat.DiscordMessage, len(msgs))
	for i, m := range msgs {
		out[i] = internalDiscordMessage(m)
	}
	return out, nil
}

type slackTransport struct {
	t SlackTransport
}

func (a slackTransport) PostMessage(ctx context.Context, channelID, text string) (string, error) {
	return a.t.PostMessage(ctx, channelID, text)
}

func (a slackTransport) AddReaction(ctx context.Context, channelID, ts, emoji string) error {
	return a.t.AddReaction(ctx, channelID, ts, emoji)
}

func (a slackTransport) Message(ctx context.Context, channelID, ts string) (chat.SlackMessage, error) {
	m, err := a.t.Message(ctx, channelID, ts)
	if err != nil {
		return chat.SlackMessage{}, err
	}
	return internalSlackMessage(m), nil
}

func (a slackTransport) History(ctx context.Context, channelID string, limit int) ([]chat.SlackMessage, error) {
	msgs, err := a.t.History(ctx, channelID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]chat.SlackMessage, len(msgs))
	for i, m := range msgs {
		out[i] = internalSlackMessage(m)
	}
	return out, nil
}
