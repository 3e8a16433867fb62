package chat

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kibitzhq/kibitz/internal/model"
)

type fakeSlackTransport struct {
	messages map[string]SlackMessage // keyed by ts
	sent     []string
	reacted  []string
}

func (f *fakeSlackTransport) PostMessage(_ context.Context, channelID, text string) (string, error) {
	f.sent = append(f.sent, text)
	return fmt.Sprintf("%d.000100", len(f.sent)), nil
}

func (f *fakeSlackTransport) AddReaction(_ context.Context, _, ts, emoji string) error {
	f.reacted = append(f.reacted, ts+":"+emoji)
	return nil
}

func (f *fakeSlackTransport) Message(_ context.Context, _, ts string) (SlackMessage, error) {
	m, ok := f.messages[ts]
	if !ok {
		return SlackMessage{}, fmt.Errorf("no such message %s", ts)
	}
	return m, nil
}

func (f *fakeSlackTransport) History(_ context.Context, _ string, _ int) ([]SlackMessage, error) {
	return nil, nil
}

func testSlack(t *testing.T) (*Slack, *fakeSlackTransport) {
	t.Helper()
	tr := &fakeSlackTransport{messages: make(map[string]SlackMessage)}
	self := model.User{ID: "U0BOT", Name: "kibitz", IsBot: true}
	return NewSlack(tr, self, "kibitz", slog.Default()), tr
}

func TestSlackTranslate(t *testing.T) {
	s, _ := testSlack(t)

	msg := s.Translate(context.Background(), SlackMessage{
		TS:        "1700000000.000100",
		Text:      "<@U0BOT> what time is it",
		User:      SlackUser{ID: "U1", Name: "alice"},
		ChannelID: "C1", ChannelName: "general",
		TeamID: "T1", TeamName: "testers",
		Mentions: []SlackUser{{ID: "U0BOT", Name: "kibitz", IsBot: true}},
	})

	assert.Equal(t, model.ServiceSlack, msg.Service)
	assert.Equal(t, "1700000000.000100", msg.ID)
	assert.Equal(t, "alice", msg.Author.Name)
	require.NotNil(t, msg.Channel.Server)
	assert.Equal(t, "T1", msg.Channel.Server.ID)
	assert.True(t, msg.Addressed)
	assert.Equal(t, "what time is it", msg.Query)
}

func TestSlackTranslateResolvesThreadParent(t *testing.T) {
	s, tr := testSlack(t)
	tr.messages["100.1"] = SlackMessage{
		TS: "100.1", Text: "original", User: SlackUser{ID: "U2", Name: "bob"}, ChannelID: "C1",
	}

	msg := s.Translate(context.Background(), SlackMessage{
		TS: "100.2", Text: "reply", User: SlackUser{ID: "U1", Name: "alice"},
		ChannelID: "C1", ThreadTS: "100.1",
	})

	require.NotNil(t, msg.Reference)
	assert.Equal(t, "100.1", msg.Reference.ID)
	assert.Equal(t, "bob", msg.Reference.Author.Name)
}

func TestSlackThreadRootHasNoReference(t *testing.T) {
	s, _ := testSlack(t)

	msg := s.Translate(context.Background(), SlackMessage{
		TS: "100.1", Text: "root", User: SlackUser{ID: "U1", Name: "alice"},
		ChannelID: "C1", ThreadTS: "100.1",
	})
	assert.Nil(t, msg.Reference)
}

func TestSlackTranslateReaction(t *testing.T) {
	s, tr := testSlack(t)
	tr.messages["100.1"] = SlackMessage{
		TS: "100.1", Text: "insightful", User: SlackUser{ID: "U2", Name: "bob"}, ChannelID: "C1",
	}

	r, err := s.TranslateReaction(context.Background(), SlackReaction{
		ChannelID: "C1", ItemTS: "100.1", Emoji: "stamp",
		User: SlackUser{ID: "U1", Name: "alice"},
	}, true)
	require.NoError(t, err)

	assert.Equal(t, "U1", r.Reactor.ID)
	assert.Equal(t, "U2", r.MessageAuthor.ID)
	assert.Equal(t, "stamp", r.Emoji)
	assert.True(t, r.Added)
}

func TestSlackProfile(t *testing.T) {
	s, _ := testSlack(t)
	p := s.Profile()
	assert.Equal(t, "_", p.Italics)
	assert.Equal(t, 2000, p.ChunkLimit)
	assert.True(t, p.SupportsReactions)
}
