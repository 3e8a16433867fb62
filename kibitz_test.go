package kibitz

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDiscordTransport struct {
	mu   sync.Mutex
	sent []string
	byID map[string]DiscordMessage
}

func (f *fakeDiscordTransport) CreateMessage(_ context.Context, channelID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return "m1", nil
}

func (f *fakeDiscordTransport) CreateReaction(context.Context, string, string, string) error {
	return nil
}

func (f *fakeDiscordTransport) ChannelMessage(_ context.Context, _, messageID string) (DiscordMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.byID[messageID]; ok {
		return m, nil
	}
	return DiscordMessage{}, fmt.Errorf("no such message %s", messageID)
}

func (f *fakeDiscordTransport) ChannelMessages(context.Context, string, int) ([]DiscordMessage, error) {
	return nil, nil
}

func (f *fakeDiscordTransport) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type echoModule struct{}

func (echoModule) Name() string { return "echo" }

func (echoModule) ProcessMessage(_ context.Context, msg Message) (Response, error) {
	if !msg.Addressed {
		return Response{}, nil
	}
	return Response{Confidence: 5, Text: "echo: " + msg.Query, Why: "echoed the query"}, nil
}

func testApp(t *testing.T, opts ...Option) (*App, *fakeDiscordTransport) {
	t.Helper()
	transport := &fakeDiscordTransport{byID: make(map[string]DiscordMessage)}
	base := []Option{
		WithDatabase("sqlite", ":memory:"),
		WithHandle("kibitz"),
		WithDiscord(transport, DiscordUser{ID: "bot-1", Username: "kibitz", Bot: true}),
	}
	app, err := New(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(app.close)
	return app, transport
}

func TestNewAssemblesApp(t *testing.T) {
	app, _ := testApp(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	app.Handler().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
}

func TestIngestDiscordMessageDispatchesToModule(t *testing.T) {
	app, transport := testApp(t, WithModule(echoModule{}))

	err := app.IngestDiscordMessage(context.Background(), DiscordMessage{
		ID:        "in-1",
		Content:   "hello there",
		Author:    DiscordUser{ID: "u1", Username: "alice"},
		ChannelID: "c1",
		DM:        true,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(transport.messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "echo: hello there", transport.messages()[0])
}

func TestIngestWithoutAdapterFails(t *testing.T) {
	transport := &fakeDiscordTransport{}
	app, err := New(context.Background(),
		WithDatabase("sqlite", ":memory:"),
		WithDiscord(transport, DiscordUser{ID: "bot-1", Username: "kibitz", Bot: true}),
	)
	require.NoError(t, err)
	t.Cleanup(app.close)

	err = app.IngestSlackMessage(context.Background(), SlackMessage{TS: "1", Text: "hi"})
	assert.Error(t, err)
}

func TestInternalResponseConvertsCallback(t *testing.T) {
	r := internalResponse(Response{
		Confidence: 3,
		Callback: func(context.Context) (Response, error) {
			return Response{Confidence: 3, Text: "deferred"}, nil
		},
	})
	require.NotNil(t, r.Callback)

	next, err := r.Callback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "deferred", next.Text)
	assert.InDelta(t, 3.0, next.Confidence, 1e-9)
}

func TestStampOnBotReplyAccruesNothing(t *testing.T) {
	app, transport := testApp(t)
	ctx := context.Background()

	transport.byID["bot-reply"] = DiscordMessage{
		ID:        "bot-reply",
		Content:   "here is my answer",
		Author:    DiscordUser{ID: "bot-1", Username: "kibitz", Bot: true},
		ChannelID: "c1",
	}
	transport.byID["alice-msg"] = DiscordMessage{
		ID:        "alice-msg",
		Content:   "a helpful remark",
		Author:    DiscordUser{ID: "u2", Username: "alice"},
		ChannelID: "c1",
	}

	stamp := func(messageID string) error {
		return app.IngestDiscordReaction(ctx, DiscordReaction{
			ChannelID: "c1",
			MessageID: messageID,
			Emoji:     "stamp",
			Member:    DiscordUser{ID: "u1", Username: "bob"},
		}, true)
	}

	// A stamp on the assistant's own reply never enters the vote graph,
	// even though the reply is identified by the platform bot ID rather
	// than the handle.
	require.NoError(t, stamp("bot-reply"))
	assert.InDelta(t, 0.0, app.StampValue("bot-1"), 1e-9)
	assert.Equal(t, int64(0), app.engine.TotalVotes())

	// The same stamp on a human-authored message does count.
	require.NoError(t, stamp("alice-msg"))
	assert.Equal(t, int64(1), app.engine.TotalVotes())
}

func TestLoadSeedsTrustGraph(t *testing.T) {
	app, _ := testApp(t)

	// Only the boundary vote exists: the seed holds score but the graph
	// has no public votes yet, so every stamp value is still zero.
	assert.Greater(t, app.engine.Snapshot().Score(app.cfg.SeedUserID), 0.0)
	assert.InDelta(t, 0.0, app.StampValue(app.cfg.SeedUserID), 1e-9)
}
