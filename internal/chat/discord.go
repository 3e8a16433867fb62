package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kibitzhq/kibitz/internal/model"
)

// DiscordUser is a platform-native user as delivered by the gateway.
type DiscordUser struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Bot         bool     `json:"bot,omitempty"`
}

// DiscordMessage is a platform-native message event. The gateway that
// produces these (WebSocket session, REST poller) is out of scope here.
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

// DiscordReaction is a platform-native reaction add/remove event.
type DiscordReaction struct {
	ChannelID string      `json:"channel_id"`
	MessageID string      `json:"message_id"`
	Emoji     string      `json:"emoji"`
	Member    DiscordUser `json:"member"`
}

// DiscordTransport is the outbound half of the Discord connection.
type DiscordTransport interface {
	CreateMessage(ctx context.Context, channelID, content string) (messageID string, err error)
	CreateReaction(ctx context.Context, channelID, messageID, emoji string) error
	ChannelMessage(ctx context.Context, channelID, messageID string) (DiscordMessage, error)
	ChannelMessages(ctx context.Context, channelID string, limit int) ([]DiscordMessage, error)
}

// Discord adapts Discord events and sends to the uniform envelope.
type Discord struct {
	transport DiscordTransport
	self      model.User
	addr      *addresser
	logger    *slog.Logger
}

// NewDiscord creates the Discord adapter. self is the assistant's own
// Discord user; handle is the name users address it by.
func NewDiscord(transport DiscordTransport, self model.User, handle string, logger *slog.Logger) *Discord {
	return &Discord{
		transport: transport,
		self:      self,
		addr:      newAddresser(self.ID, handle),
		logger:    logger,
	}
}

func (d *Discord) Tag() model.Service { return model.ServiceDiscord }
func (d *Discord) Self() model.User   { return d.self }

func (d *Discord) Profile() model.FormatProfile {
	return model.FormatProfile{Italics: "*", ChunkLimit: 2000, SupportsReactions: true}
}

// Translate converts a native message event into the uniform envelope,
// including clean text, addressing detection, and the reply reference.
// References are resolved one level deep.
func (d *Discord) Translate(ctx context.Context, ev DiscordMessage) *model.Message {
	return d.translate(ctx, ev, true)
}

func (d *Discord) translate(ctx context.Context, ev DiscordMessage, resolveRef bool) *model.Message {
	msg := &model.Message{
		ID:        ev.ID,
		Text:      ev.Content,
		Author:    discordUser(ev.Author),
		Service:   model.ServiceDiscord,
		CreatedAt: ev.Timestamp,
		Channel: model.Channel{
			ID:   ev.ChannelID,
			Name: ev.ChannelName,
			IsDM: ev.DM,
		},
	}
	if ev.GuildID != "" {
		msg.Channel.Server = &model.Server{ID: ev.GuildID, Name: ev.GuildName}
	}
	for _, m := range ev.Mentions {
		msg.Mentions = append(msg.Mentions, discordUser(m))
	}
	msg.CleanText = stripMentions(ev.Content, append(msg.Mentions, d.self))
	msg.Query, msg.Addressed = d.addr.resolve(msg)

	if resolveRef && ev.ReferenceID != "" {
		ref, err := d.transport.ChannelMessage(ctx, ev.ChannelID, ev.ReferenceID)
		if err != nil {
			d.logger.Warn("discord: resolve reference failed",
				"channel_id", ev.ChannelID, "message_id", ev.ReferenceID, "error", err)
		} else {
			msg.Reference = d.translate(ctx, ref, false)
		}
	}
	return msg
}

// TranslateReaction converts a reaction event, resolving the reacted-to
// message's author so the stamp engine can credit the right user.
func (d *Discord) TranslateReaction(ctx context.Context, ev DiscordReaction, added bool) (model.Reaction, error) {
	target, err := d.transport.ChannelMessage(ctx, ev.ChannelID, ev.MessageID)
	if err != nil {
		return model.Reaction{}, fmt.Errorf("chat: resolve reacted message: %w", err)
	}
	return model.Reaction{
		Service:       model.ServiceDiscord,
		ChannelID:     ev.ChannelID,
		MessageID:     ev.MessageID,
		Emoji:         ev.Emoji,
		Reactor:       discordUser(ev.Member),
		MessageAuthor: discordUser(target.Author),
		Added:         added,
	}, nil
}

func (d *Discord) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	return d.transport.CreateMessage(ctx, channelID, text)
}

// SendEmbed renders the embed as markdown-ish text. The uniform envelope
// does not assume rich-embed REST support on the transport.
func (d *Discord) SendEmbed(ctx context.Context, channelID string, embed *model.Embed, text string) (string, error) {
	return d.transport.CreateMessage(ctx, channelID, renderEmbed(embed, text, "**"))
}

func (d *Discord) React(ctx context.Context, channelID, messageID, emoji string) error {
	return d.transport.CreateReaction(ctx, channelID, messageID, emoji)
}

func (d *Discord) History(ctx context.Context, channelID string, limit int) ([]*model.Message, error) {
	events, err := d.transport.ChannelMessages(ctx, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: discord history: %w", err)
	}
	out := make([]*model.Message, 0, len(events))
	for _, ev := range events {
		out = append(out, d.Translate(ctx, ev))
	}
	return out, nil
}

func discordUser(u DiscordUser) model.User {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return model.User{
		ID:          u.ID,
		Name:        u.Username,
		DisplayName: name,
		Roles:       u.Roles,
		IsBot:       u.Bot,
	}
}

// renderEmbed flattens an embed into text with a bold marker for titles.
func renderEmbed(e *model.Embed, text, bold string) string {
	var b []byte
	if e.Title != "" {
		b = append(b, bold+e.Title+bold+"\n"...)
	}
	if e.Description != "" {
		b = append(b, e.Description+"\n"...)
	}
	for _, f := range e.Fields {
		b = append(b, bold+f.Name+bold+": "+f.Value+"\n"...)
	}
	if text != "" {
		b = append(b, text...)
	}
	return string(b)
}
