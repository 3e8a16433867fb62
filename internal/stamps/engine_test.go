package stamps

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kibitzhq/kibitz/internal/storage"
	"github.com/kibitzhq/kibitz/migrations"
)

const (
	rootID      = "root"
	seedID      = "alice"
	assistantID = "kibitz"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, "sqlite", ":memory:", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(ctx, migrations.FS))

	e := NewEngine(db, rootID, seedID, assistantID, 1.0, slog.Default())
	require.NoError(t, e.Load(ctx))
	return e
}

func TestRootOnlyGraph(t *testing.T) {
	e := testEngine(t)
	snap := e.Snapshot()

	assert.Equal(t, 1.0, snap.Score(rootID))
	assert.Equal(t, 1.0, snap.Score(seedID))
	assert.Equal(t, int64(0), snap.TotalVotes())
	assert.Equal(t, 0.0, snap.StampValue(seedID))
}

func TestTrustFlowsDownChain(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	// alice spends all her voting weight on bob.
	require.NoError(t, e.AddVote(ctx, seedID, "bob", 4))

	snap := e.Snapshot()
	assert.Equal(t, 1.0, snap.Score(rootID))
	assert.InDelta(t, 1.0, snap.Score(seedID), 1e-9)
	assert.InDelta(t, 1.0, snap.Score("bob"), 1e-9)
	assert.Equal(t, int64(4), snap.TotalVotes())
	assert.InDelta(t, 4.0, snap.StampValue("bob"), 1e-9)
}

func TestSplitVoteSharesTrust(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	require.NoError(t, e.AddVote(ctx, seedID, "bob", 3))
	require.NoError(t, e.AddVote(ctx, seedID, "carol", 1))

	snap := e.Snapshot()
	assert.InDelta(t, 0.75, snap.Score("bob"), 1e-9)
	assert.InDelta(t, 0.25, snap.Score("carol"), 1e-9)
}

func TestMutualVoteCycle(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	require.NoError(t, e.AddVote(ctx, seedID, "bob", 1))
	require.NoError(t, e.AddVote(ctx, "bob", seedID, 1))

	snap := e.Snapshot()
	assert.Equal(t, 1.0, snap.Score(rootID))
	assert.Greater(t, snap.Score(seedID), 0.0)
	assert.Greater(t, snap.Score("bob"), 0.0)
	// The mutual edge makes the pair symmetric.
	assert.InDelta(t, snap.Score(seedID), snap.Score("bob"), 1e-9)
}

func TestCompensatingVotesRestoreScoresExactly(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	require.NoError(t, e.AddVote(ctx, seedID, "bob", 2))
	require.NoError(t, e.AddVote(ctx, "bob", "carol", 5))
	require.NoError(t, e.AddVote(ctx, "carol", seedID, 1))

	before := e.Snapshot()
	want := map[string]float64{
		rootID:  before.Score(rootID),
		seedID:  before.Score(seedID),
		"bob":   before.Score("bob"),
		"carol": before.Score("carol"),
	}
	wantTotal := before.TotalVotes()

	require.NoError(t, e.AddVote(ctx, "bob", seedID, 3))
	require.NoError(t, e.AddVote(ctx, "bob", seedID, -3))

	after := e.Snapshot()
	assert.Equal(t, wantTotal, after.TotalVotes())
	for id, score := range want {
		assert.Equal(t, score, after.Score(id), "score of %s", id)
	}
}

func TestIgnoredVotes(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	require.NoError(t, e.AddVote(ctx, seedID, seedID, 1))
	require.NoError(t, e.AddVote(ctx, seedID, assistantID, 5))
	require.NoError(t, e.AddVote(ctx, rootID, "bob", 1))

	snap := e.Snapshot()
	assert.Equal(t, int64(0), snap.TotalVotes())
	assert.Equal(t, 0.0, snap.StampValue(assistantID))
	assert.Equal(t, 0.0, snap.Score("bob"))
}

func TestScoresNeverNegative(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	require.NoError(t, e.AddVote(ctx, seedID, "bob", 1))
	// More retractions than awards leave a net-negative edge.
	require.NoError(t, e.AddVote(ctx, seedID, "bob", -3))
	require.NoError(t, e.AddVote(ctx, seedID, "carol", 2))

	snap := e.Snapshot()
	for _, id := range []string{rootID, seedID, "bob", "carol"} {
		assert.GreaterOrEqual(t, snap.Score(id), 0.0, "score of %s", id)
		assert.GreaterOrEqual(t, snap.StampValue(id), 0.0, "stamp value of %s", id)
	}
	assert.Equal(t, 0.0, snap.Score("bob"))
}

func TestReloadRebuildsIdenticalScores(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	require.NoError(t, e.AddVote(ctx, seedID, "bob", 2))
	require.NoError(t, e.AddVote(ctx, "bob", "carol", 1))
	before := e.Snapshot()

	require.NoError(t, e.Load(ctx))
	after := e.Snapshot()

	assert.Equal(t, before.TotalVotes(), after.TotalVotes())
	for _, id := range []string{rootID, seedID, "bob", "carol"} {
		assert.Equal(t, before.Score(id), after.Score(id), "score of %s", id)
	}
}

func TestSolveEmptySystem(t *testing.T) {
	scores, err := solve(nil, 1.0)
	require.NoError(t, err)
	assert.Empty(t, scores)

	scores, err = solve([][]edge{nil}, 1.0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, scores)
}
