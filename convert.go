package kibitz

import (
	"context"

	"github.com/kibitzhq/kibitz/internal/chat"
	"github.com/kibitzhq/kibitz/internal/model"
)

// Converters between the public boundary types and the internal model
// and chat event structs. Field-for-field by design: the public types
// exist so embedders never import internal packages.

func publicUser(u model.User) User {
	return User{
		ID:          u.ID,
		Name:        u.Name,
		DisplayName: u.DisplayName,
		Roles:       u.Roles,
		Bot:         u.IsBot,
	}
}

func publicMessage(m *model.Message) Message {
	out := Message{
		ID:          m.ID,
		Text:        m.Text,
		Author:      publicUser(m.Author),
		ChannelID:   m.Channel.ID,
		ChannelName: m.Channel.Name,
		Service:     string(m.Service),
		DM:          m.Channel.IsDM,
		CreatedAt:   m.CreatedAt,
		Addressed:   m.Addressed,
		Query:       m.Query,
	}
	for _, u := range m.Mentions {
		out.Mentions = append(out.Mentions, publicUser(u))
	}
	if m.Reference != nil {
		out.ReferenceID = m.Reference.ID
	}
	return out
}

func internalResponse(r Response) model.Response {
	out := model.Response{
		Confidence: r.Confidence,
		Text:       r.Text,
		Chunks:     r.Chunks,
		Why:        r.Why,
	}
	if r.Embed != nil {
		out.Embed = internalEmbed(r.Embed)
	}
	if cb := r.Callback; cb != nil {
		out.Callback = func(ctx context.Context) (model.Response, error) {
			next, err := cb(ctx)
			if err != nil {
				return model.Response{}, err
			}
			return internalResponse(next), nil
		}
	}
	return out
}

func internalEmbed(e *Embed) *model.Embed {
	out := &model.Embed{Title: e.Title, Description: e.Description}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, model.EmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return out
}

func discordSelfUser(u DiscordUser) model.User {
	return model.User{
		ID:          u.ID,
		Name:        u.Username,
		DisplayName: u.DisplayName,
		Roles:       u.Roles,
		IsBot:       u.Bot,
	}
}

func slackSelfUser(u SlackUser) model.User {
	return model.User{
		ID:          u.ID,
		Name:        u.Name,
		DisplayName: u.RealName,
		Roles:       u.Roles,
		IsBot:       u.IsBot,
	}
}

func internalDiscordUser(u DiscordUser) chat.DiscordUser {
	return chat.DiscordUser{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Roles:       u.Roles,
		Bot:         u.Bot,
	}
}

func internalDiscordMessage(m DiscordMessage) chat.DiscordMessage {
	out := chat.DiscordMessage{
		ID:          m.ID,
		Content:     m.Content,
		Author:      internalDiscordUser(m.Author),
		ChannelID:   m.ChannelID,
		ChannelName: m.ChannelName,
		GuildID:     m.GuildID,
		GuildName:   m.GuildName,
		DM:          m.DM,
		ReferenceID: m.ReferenceID,
		Timestamp:   m.Timestamp,
	}
	for _, u := range m.Mentions {
		out.Mentions = append(out.Mentions, internalDiscordUser(u))
	}
	return out
}

func internalDiscordReaction(r DiscordReaction) chat.DiscordReaction {
	return chat.DiscordReaction{
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		Emoji:     r.Emoji,
		Member:    internalDiscordUser(r.Member),
	}
}

func internalSlackUser(u SlackUser) chat.SlackUser {
	return chat.SlackUser{
		ID:       u.ID,
		Name:     u.Name,
		RealName: u.RealName,
		Roles:    u.Roles,
		IsBot:    u.IsBot,
	}
}

func internalSlackMessage(m SlackMessage) chat.SlackMessage {
	out := chat.SlackMessage{
		TS:          m.TS,
		Text:        m.Text,
		User:        internalSlackUser(m.User),
		ChannelID:   m.ChannelID,
		ChannelName: m.ChannelName,
		TeamID:      m.TeamID,
		TeamName:    m.TeamName,
		DM:          m.DM,
		ThreadTS:    m.ThreadTS,
	}
	for _, u := range m.Mentions {
		out.Mentions = append(out.Mentions, internalSlackUser(u))
	}
	return out
}

func internalSlackReaction(r SlackReaction) chat.SlackReaction {
	return chat.SlackReaction{
		ChannelID: r.ChannelID,
		ItemTS:    r.ItemTS,
		Emoji:     r.Emoji,
		User:      internalSlackUser(r.User),
	}
}
