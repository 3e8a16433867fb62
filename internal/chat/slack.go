package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kibitzhq/kibitz/internal/model"
)

// SlackUser is a workspace member as delivered by the Slack events API.
type SlackUser struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	RealName string   `json:"real_name,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	IsBot    bool     `json:"is_bot,omitempty"`
}

// SlackMessage is a platform-native message event. Slack identifies
// messages by their timestamp string ("ts").
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

// SlackReaction is a reaction_added / reaction_removed event.
type SlackReaction struct {
	ChannelID string    `json:"channel"`
	ItemTS    string    `json:"item_ts"`
	Emoji     string    `json:"reaction"`
	User      SlackUser `json:"user"`
}

// SlackTransport is the outbound half of the Slack connection.
type SlackTransport interface {
	PostMessage(ctx context.Context, channelID, text string) (ts string, err error)
	AddReaction(ctx context.Context, channelID, ts, emoji string) error
	Message(ctx context.Context, channelID, ts string) (SlackMessage, error)
	History(ctx context.Context, channelID string, limit int) ([]SlackMessage, error)
}

// Slack adapts Slack events and sends to the uniform envelope.
type Slack struct {
	transport SlackTransport
	self      model.User
	addr      *addresser
	logger    *slog.Logger
}

// NewSlack creates the Slack adapter.
func NewSlack(transport SlackTransport, self model.User, handle string, logger *slog.Logger) *Slack {
	return &Slack{
		transport: transport,
		self:      self,
		addr:      newAddresser(self.ID, handle),
		logger:    logger,
	}
}

func (s *Slack) Tag() model.Service { return model.ServiceSlack }
func (s *Slack) Self() model.User   { return s.self }

func (s *Slack) Profile() model.FormatProfile {
	return model.FormatProfile{Italics: "_", ChunkLimit: 2000, SupportsReactions: true}
}

// Translate converts a native message event into the uniform envelope.
func (s *Slack) Translate(ctx context.Context, ev SlackMessage) *model.Message {
	return s.translate(ctx, ev, true)
}

func (s *Slack) translate(ctx context.Context, ev SlackMessage, resolveRef bool) *model.Message {
	msg := &model.Message{
		ID:        ev.TS,
		Text:      ev.Text,
		Author:    slackUser(ev.User),
		Service:   model.ServiceSlack,
		CreatedAt: tsTime(ev.TS),
		Channel: model.Channel{
			ID:   ev.ChannelID,
			Name: ev.ChannelName,
			IsDM: ev.DM,
		},
	}
	if ev.TeamID != "" {
		msg.Channel.Server = &model.Server{ID: ev.TeamID, Name: ev.TeamName}
	}
	for _, m := range ev.Mentions {
		msg.Mentions = append(msg.Mentions, slackUser(m))
	}
	msg.CleanText = stripMentions(ev.Text, append(msg.Mentions, s.self))
	msg.Query, msg.Addressed = s.addr.resolve(msg)

	// A thread reply references its parent message.
	if resolveRef && ev.ThreadTS != "" && ev.ThreadTS != ev.TS {
		parent, err := s.transport.Message(ctx, ev.ChannelID, ev.ThreadTS)
		if err != nil {
			s.logger.Warn("slack: resolve thread parent failed",
				"channel", ev.ChannelID, "thread_ts", ev.ThreadTS, "error", err)
		} else {
			msg.Reference = s.translate(ctx, parent, false)
		}
	}
	return msg
}

// TranslateReaction converts a reaction event, resolving the reacted-to
// message's author.
func (s *Slack) TranslateReaction(ctx context.Context, ev SlackReaction, added bool) (model.Reaction, error) {
	target, err := s.transport.Message(ctx, ev.ChannelID, ev.ItemTS)
	if err != nil {
		return model.Reaction{}, fmt.Errorf("chat: resolve reacted message: %w", err)
	}
	return model.Reaction{
		Service:       model.ServiceSlack,
		ChannelID:     ev.ChannelID,
		MessageID:     ev.ItemTS,
		Emoji:         ev.Emoji,
		Reactor:       slackUser(ev.User),
		MessageAuthor: slackUser(target.User),
		Added:         added,
	}, nil
}

func (s *Slack) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	return s.transport.PostMessage(ctx, channelID, text)
}

func (s *Slack) SendEmbed(ctx context.Context, channelID string, embed *model.Embed, text string) (string, error) {
	return s.transport.PostMessage(ctx, channelID, renderEmbed(embed, text, "*"))
}

func (s *Slack) React(ctx context.Context, channelID, messageID, emoji string) error {
	return s.transport.AddReaction(ctx, channelID, messageID, emoji)
}

func (s *Slack) History(ctx context.Context, channelID string, limit int) ([]*model.Message, error) {
	events, err := s.transport.History(ctx, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: slack history: %w", err)
	}
	out := make([]*model.Message, 0, len(events))
	for _, ev := range events {
		out = append(out, s.translate(ctx, ev, false))
	}
	return out, nil
}

func slackUser(u SlackUser) model.User {
	name := u.RealName
	if name == "" {
		name = u.Name
	}
	return model.User{
		ID:          u.ID,
		Name:        u.Name,
		DisplayName: name,
		Roles:       u.Roles,
		IsBot:       u.IsBot,
	}
}

// tsTime converts a Slack "seconds.micros" timestamp into time.Time.
func tsTime(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9))
}
