package kibitz

import "context"

// Module is a pluggable message handler registered with WithModule.
// Every inbound message is offered to every module; the reply with the
// highest confidence wins. Return a zero Response to stay silent.
//
// Modules must be safe for concurrent use: messages from different
// channels are dispatched in parallel.
type Module interface {
	// Name identifies the module in logs and in :select_modules.
	Name() string

	// ProcessMessage inspects one inbound message and returns a
	// candidate reply with a confidence in [0, 10].
	ProcessMessage(ctx context.Context, msg Message) (Response, error)
}

// ReactionObserver is implemented by modules that want emoji reactions
// the reply gate did not claim.
type ReactionObserver interface {
	OnReaction(ctx context.Context, r Reaction) error
}

// Ticker is implemented by modules that run periodic work.
type Ticker interface {
	Tick(ctx context.Context)
}

// Poster delivers an approved draft to its external thread. The outbox
// worker retries failed deliveries a bounded number of times.
type Poster interface {
	Post(ctx context.Context, reply OutboundReply) error
}

// DiscordTransport is the wire layer for the Discord adapter. Implement
// it over your gateway session; the adapter never opens a socket itself.
type DiscordTransport interface {
	CreateMessage(ctx context.Context, channelID, content string) (messageID string, err error)
	CreateReaction(ctx context.Context, channelID, messageID, emoji string) error
	ChannelMessage(ctx context.Context, channelID, messageID string) (DiscordMessage, error)
	ChannelMessages(ctx context.Context, channelID string, limit int) ([]DiscordMessage, error)
}

// SlackTransport is the wire layer for the Slack adapter.
type SlackTransport interface {
	PostMessage(ctx context.Context, channelID, text string) (ts string, err error)
	AddReaction(ctx context.Context, channelID, ts, emoji string) error
	Message(ctx context.Context, channelID, ts string) (SlackMessage, error)
	History(ctx context.Context, channelID string, limit int) ([]SlackMessage, error)
}
