package gate

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kibitzhq/kibitz/internal/model"
	"github.com/kibitzhq/kibitz/internal/queue"
)

type fakeScores struct {
	values map[string]float64
	total  int64
}

func (f *fakeScores) StampValue(userID string) float64 { return f.values[userID] }
func (f *fakeScores) TotalVotes() int64                { return f.total }

type fakeSender struct {
	mu    sync.Mutex
	sent  []queue.Envelope
	calls int
}

func (f *fakeSender) Push(_ context.Context, env queue.Envelope) (queue.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sent = append(f.sent, env)
	return env, nil
}

type fakeThreads struct{ replied []string }

func (f *fakeThreads) MarkReplied(_ context.Context, url string) error {
	f.replied = append(f.replied, url)
	return nil
}

type fakeReactor struct{ emojis []string }

func (f *fakeReactor) React(_ context.Context, _ model.Service, _, _, emoji string) error {
	f.emojis = append(f.emojis, emoji)
	return nil
}

var testOrigin = Origin{Service: model.ServiceDiscord, ChannelID: "chan", MessageID: "msg"}

func testGate(scores *fakeScores) (*Gate, *fakeSender, *fakeThreads, *fakeReactor) {
	sender := &fakeSender{}
	threads := &fakeThreads{}
	reactor := &fakeReactor{}
	cfg := Config{
		Ratio:         0.1,
		ApproveEmojis: []string{"stamp", "goldstamp"},
		VetoEmoji:     "x",
		SentEmoji:     "white_check_mark",
		VetoRoles:     []string{"moderator"},
	}
	return New(cfg, scores, sender, threads, reactor, slog.Default()), sender, threads, reactor
}

func reaction(emoji string, reactor model.User, added bool) model.Reaction {
	return model.Reaction{
		Service:   testOrigin.Service,
		ChannelID: testOrigin.ChannelID,
		MessageID: testOrigin.MessageID,
		Emoji:     emoji,
		Reactor:   reactor,
		Added:     added,
	}
}

func TestDraftReleasesAtThreshold(t *testing.T) {
	scores := &fakeScores{total: 100, values: map[string]float64{"u1": 7, "u2": 5}}
	g, sender, threads, reactor := testGate(scores)
	ctx := context.Background()

	d, err := g.Propose(ctx, model.User{ID: "u1"}, "the answer", "https://youtube.com/watch?v=x&lc=1", testOrigin)
	require.NoError(t, err)

	// Author weight 7 is below threshold 10.
	assert.Equal(t, Pending, d.State())
	assert.Empty(t, sender.sent)

	handled, err := g.HandleReaction(ctx, reaction("stamp", model.User{ID: "u2"}, true))
	require.NoError(t, err)
	assert.True(t, handled)

	assert.Equal(t, Sent, d.State())
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "the answer", sender.sent[0].Text)
	assert.Equal(t, []string{"https://youtube.com/watch?v=x&lc=1"}, threads.replied)
	assert.Equal(t, []string{"white_check_mark"}, reactor.emojis)
}

func TestReleaseHappensExactlyOnce(t *testing.T) {
	scores := &fakeScores{total: 100, values: map[string]float64{"u1": 7, "u2": 5, "u3": 50}}
	g, sender, _, _ := testGate(scores)
	ctx := context.Background()

	d, err := g.Propose(ctx, model.User{ID: "u1"}, "text", "thread", testOrigin)
	require.NoError(t, err)

	_, err = g.HandleReaction(ctx, reaction("stamp", model.User{ID: "u2"}, true))
	require.NoError(t, err)
	require.Equal(t, Sent, d.State())

	// Further approvals after release are no-ops.
	_, err = g.HandleReaction(ctx, reaction("goldstamp", model.User{ID: "u3"}, true))
	require.NoError(t, err)
	assert.Equal(t, 1, sender.calls)
}

func TestAuthorWeightCanReleaseImmediately(t *testing.T) {
	scores := &fakeScores{total: 100, values: map[string]float64{"u1": 15}}
	g, sender, _, _ := testGate(scores)

	d, err := g.Propose(context.Background(), model.User{ID: "u1"}, "text", "thread", testOrigin)
	require.NoError(t, err)

	assert.Equal(t, Sent, d.State())
	assert.Equal(t, 1, sender.calls)
}

func TestVetoRequiresRole(t *testing.T) {
	scores := &fakeScores{total: 100, values: map[string]float64{}}
	g, sender, _, _ := testGate(scores)
	ctx := context.Background()

	d, err := g.Propose(ctx, model.User{ID: "u1"}, "text", "thread", testOrigin)
	require.NoError(t, err)

	_, err = g.HandleReaction(ctx, reaction("x", model.User{ID: "u2"}, true))
	require.NoError(t, err)
	assert.Equal(t, Pending, d.State())

	mod := model.User{ID: "u3", Roles: []string{"moderator"}}
	_, err = g.HandleReaction(ctx, reaction("x", mod, true))
	require.NoError(t, err)
	assert.Equal(t, Vetoed, d.State())

	// A vetoed draft never releases.
	scores.values["u4"] = 1000
	_, err = g.HandleReaction(ctx, reaction("stamp", model.User{ID: "u4"}, true))
	require.NoError(t, err)
	assert.Equal(t, Vetoed, d.State())
	assert.Empty(t, sender.sent)
}

func TestZeroWeightApproversAreRecorded(t *testing.T) {
	scores := &fakeScores{total: 100, values: map[string]float64{}}
	g, _, _, _ := testGate(scores)
	ctx := context.Background()

	d, err := g.Propose(ctx, model.User{ID: "u1"}, "text", "thread", testOrigin)
	require.NoError(t, err)

	_, err = g.HandleReaction(ctx, reaction("stamp", model.User{ID: "u2"}, true))
	require.NoError(t, err)

	assert.Equal(t, Pending, d.State())
	assert.Equal(t, 2, d.Approvers())
}

func TestApprovalRetraction(t *testing.T) {
	scores := &fakeScores{total: 100, values: map[string]float64{}}
	g, _, _, _ := testGate(scores)
	ctx := context.Background()

	d, err := g.Propose(ctx, model.User{ID: "u1"}, "text", "thread", testOrigin)
	require.NoError(t, err)

	_, err = g.HandleReaction(ctx, reaction("stamp", model.User{ID: "u2"}, true))
	require.NoError(t, err)
	require.Equal(t, 2, d.Approvers())

	_, err = g.HandleReaction(ctx, reaction("stamp", model.User{ID: "u2"}, false))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Approvers())

	// The author's implicit approval cannot be retracted.
	_, err = g.HandleReaction(ctx, reaction("stamp", model.User{ID: "u1"}, false))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Approvers())
}

func TestUnrelatedReactionNotHandled(t *testing.T) {
	scores := &fakeScores{total: 100, values: map[string]float64{}}
	g, _, _, _ := testGate(scores)

	r := model.Reaction{
		Service:   model.ServiceDiscord,
		ChannelID: "other",
		MessageID: "other",
		Emoji:     "stamp",
		Reactor:   model.User{ID: "u2"},
		Added:     true,
	}
	handled, err := g.HandleReaction(context.Background(), r)
	require.NoError(t, err)
	assert.False(t, handled)
}
