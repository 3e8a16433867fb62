package kibitz

import "log/slog"

// Option configures the App. Options override values loaded from the
// environment.
type Option func(*resolvedOptions)

type resolvedOptions struct {
	logger  *slog.Logger
	version string

	port           int
	databaseDriver string
	databaseURL    string
	redisURL       string
	handle         string

	gateRatio   float64
	testingMode bool

	modules []Module
	poster  Poster

	discordTransport DiscordTransport
	discordSelf      DiscordUser
	slackTransport   SlackTransport
	slackSelf        SlackUser

	frontDoorKeys map[string]string
}

// WithLogger sets the structured logger used by every component.
// Defaults to a JSON logger on stderr.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion reports the embedding application's version in telemetry
// and the health endpoint.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithPort sets the HTTP front-door port.
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabase overrides the database driver ("postgres" or "sqlite")
// and connection string.
func WithDatabase(driver, url string) Option {
	return func(o *resolvedOptions) {
		o.databaseDriver = driver
		o.databaseURL = url
	}
}

// WithRedisURL overrides the Redis connection string for the outbound
// reply queue.
func WithRedisURL(url string) Option {
	return func(o *resolvedOptions) { o.redisURL = url }
}

// WithHandle sets the name users address the assistant by.
func WithHandle(handle string) Option {
	return func(o *resolvedOptions) { o.handle = handle }
}

// WithGateRatio sets the approval threshold as a fraction of the trust
// graph's total votes. Must be in (0,1).
func WithGateRatio(ratio float64) Option {
	return func(o *resolvedOptions) { o.gateRatio = ratio }
}

// WithTestingMode disables the own-message filter and prefixes every
// outbound text with a correlation marker, so integration tests can
// drive the assistant with its own account.
func WithTestingMode() Option {
	return func(o *resolvedOptions) { o.testingMode = true }
}

// WithModule registers an external message handler. Modules are
// consulted in registration order, after the built-in ones; earlier
// modules win confidence ties.
func WithModule(m Module) Option {
	return func(o *resolvedOptions) { o.modules = append(o.modules, m) }
}

// WithPoster enables the outbox worker, which drains the approved-reply
// queue through the given Poster.
func WithPoster(p Poster) Option {
	return func(o *resolvedOptions) { o.poster = p }
}

// WithDiscord registers the Discord service adapter over the given wire
// transport. self is the assistant's own Discord user.
func WithDiscord(t DiscordTransport, self DiscordUser) Option {
	return func(o *resolvedOptions) {
		o.discordTransport = t
		o.discordSelf = self
	}
}

// WithSlack registers the Slack service adapter over the given wire
// transport. self is the assistant's own Slack user.
func WithSlack(t SlackTransport, self SlackUser) Option {
	return func(o *resolvedOptions) {
		o.slackTransport = t
		o.slackSelf = self
	}
}

// WithFrontDoorKey registers one HTTP front-door client. hash is an
// Argon2id encoding produced by HashKey.
func WithFrontDoorKey(name, hash string) Option {
	return func(o *resolvedOptions) {
		if o.frontDoorKeys == nil {
			o.frontDoorKeys = make(map[string]string)
		}
		o.frontDoorKeys[name] = hash
	}
}

func resolveOptions(opts []Option) resolvedOptions {
	var o resolvedOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
