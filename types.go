package kibitz

import (
	"context"
	"time"
)

// User is a chat participant as seen by embedding consumers. Standalone
// struct with no internal imports, converted at the package boundary.
type User struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Bot         bool     `json:"bot,omitempty"`
}

// Message is the uniform inbound envelope handed to external modules.
type Message struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Author      User      `json:"author"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name,omitempty"`
	Service     string    `json:"service"`
	DM          bool      `json:"dm,omitempty"`
	Mentions    []User    `json:"mentions,omitempty"`
	ReferenceID string    `json:"reference_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// Addressed is true when the message is directed at the assistant;
	// Query is the text with the addressing stripped.
	Addressed bool   `json:"addressed"`
	Query     string `json:"query,omitempty"`
}

// Reaction is an emoji added to or removed from a message, as seen by
// a ReactionObserver module.
type Reaction struct {
	Service       string `json:"service"`
	ChannelID     string `json:"channel_id"`
	MessageID     string `json:"message_id"`
	Emoji         string `json:"emoji"`
	Reactor       User   `json:"reactor"`
	MessageAuthor User   `json:"message_author"`
	Added         bool   `json:"added"`
}

// Response is a module's candidate reply. Set Text (or Chunks) for an
// immediate answer, or Callback for a deferred one; the callback runs
// only if this candidate wins ranking.
type Response struct {
	Confidence float64
	Text       string
	Chunks     []string
	Embed      *Embed
	Callback   func(ctx context.Context) (Response, error)

	// Why explains the reasoning; it feeds "why did you say that?".
	Why string
}

// Embed is a rich outbound attachment for services that support it.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// EmbedField is a single titled field within an Embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// OutboundReply is an approved draft handed to the Poster for delivery
// to its external thread.
type OutboundReply struct {
	ID        string    `json:"id"`
	ThreadURL string    `json:"thread_url"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// DiscordUser is a platform-native Discord user.
type DiscordUser struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Bot         bool     `json:"bot,omitempty"`
}

// DiscordMessage is a platform-native Discord message event. The gateway
// session that produces these lives with the caller.
type DiscordMessage struct {
	ID          string        `json:"id"`
	Content     string        `json:"content"`
	Author      DiscordUser   `json:"author"`
	ChannelID   string        `json:"channel_id"`
	ChannelName string        `json:"channel_name,omitempty"`
	GuildID     string        `json:"guild_id,omitempty"`
	GuildName   string        `json:"guild_name,omitempty"`
	DM          bool          `json:"dm,omitempty"`
	Mentions    []DiscordUser `json:"mentions,omitempty"`
	ReferenceID string        `json:"reference_id,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// DiscordReaction is a reaction add or remove event.
type DiscordReaction struct {
	ChannelID string      `json:"channel_id"`
	MessageID string      `json:"message_id"`
	Emoji     string      `json:"emoji"`
	Member    DiscordUser `json:"member"`
}

// SlackUser is a workspace member from the Slack events API.
type SlackUser struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	RealName string   `json:"real_name,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	IsBot    bool     `json:"is_bot,omitempty"`
}

// SlackMessage is a platform-native Slack message event, identified by
// its timestamp string.
type SlackMessage struct {
	TS          string      `json:"ts"`
	Text        string      `json:"text"`
	User        SlackUser   `json:"user"`
	ChannelID   string      `json:"channel"`
	ChannelName string      `json:"channel_name,omitempty"`
	TeamID      string      `json:"team,omitempty"`
	TeamName    string      `json:"team_name,omitempty"`
	DM          bool        `json:"dm,omitempty"`
	Mentions    []SlackUser `json:"mentions,omitempty"`
	ThreadTS    string      `json:"thread_ts,omitempty"`
}

// SlackReaction is a reaction_added or reaction_removed event.
type SlackReaction struct {
	ChannelID string    `json:"channel"`
	ItemTS    string    `json:"item_ts"`
	Emoji     string    `json:"reaction"`
	User      SlackUser `json:"user"`
}
