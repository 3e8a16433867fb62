package storage

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kibitzhq/kibitz/migrations"
)

// testDB opens a fresh in-memory sqlite database with migrations applied.
// The sqlite driver is the same code path production uses in single-node
// mode; Postgres behavior is covered by the integration test.
func testDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, "sqlite", ":memory:", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RunMigrations(ctx, migrations.FS))
	return db
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.RunMigrations(context.Background(), migrations.FS))
}

func TestApplyVoteAccumulates(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	w, err := db.ApplyVote(ctx, "a", "b", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w)

	w, err = db.ApplyVote(ctx, "a", "b", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(6), w)

	// A retraction undoes exactly what it compensates.
	w, err = db.ApplyVote(ctx, "a", "b", -5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w)
}

func TestSetVotePins(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.SetVote(ctx, "root", "seed", 1))
	require.NoError(t, db.SetVote(ctx, "root", "seed", 1))

	votes, err := db.LoadVotes(ctx)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, VoteRow{FromID: "root", ToID: "seed", Weight: 1}, votes[0])
}

func TestLoadVotesDeterministicOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.ApplyVote(ctx, "b", "a", 1)
	require.NoError(t, err)
	_, err = db.ApplyVote(ctx, "a", "c", 2)
	require.NoError(t, err)
	_, err = db.ApplyVote(ctx, "a", "b", 3)
	require.NoError(t, err)

	votes, err := db.LoadVotes(ctx)
	require.NoError(t, err)
	require.Len(t, votes, 3)
	assert.Equal(t, "a", votes[0].FromID)
	assert.Equal(t, "b", votes[0].ToID)
	assert.Equal(t, "a", votes[1].FromID)
	assert.Equal(t, "c", votes[1].ToID)
	assert.Equal(t, "b", votes[2].FromID)
}

func TestQAThreadLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	thread := QAThread{
		URL:      "https://example.com/watch?v=abc&lc=123",
		Username: "asker",
		Title:    "a question",
		Text:     "what is the answer?",
	}
	require.NoError(t, db.UpsertThread(ctx, thread))

	got, err := db.GetThread(ctx, thread.URL)
	require.NoError(t, err)
	assert.Equal(t, "asker", got.Username)
	assert.False(t, got.Replied)

	require.NoError(t, db.MarkAsked(ctx, thread.URL))
	require.NoError(t, db.MarkReplied(ctx, thread.URL))

	got, err = db.GetThread(ctx, thread.URL)
	require.NoError(t, err)
	assert.True(t, got.Asked)
	assert.True(t, got.Replied)

	// Upserting again must not clear the flags.
	require.NoError(t, db.UpsertThread(ctx, thread))
	got, err = db.GetThread(ctx, thread.URL)
	require.NoError(t, err)
	assert.True(t, got.Replied)
}

func TestQAThreadNotFound(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.GetThread(ctx, "missing")
	assert.ErrorIs(t, err, ErrThreadNotFound)
	assert.ErrorIs(t, db.MarkReplied(ctx, "missing"), ErrThreadNotFound)
}

func TestUnaskedThreads(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertThread(ctx, QAThread{URL: "a"}))
	require.NoError(t, db.UpsertThread(ctx, QAThread{URL: "b"}))
	require.NoError(t, db.MarkAsked(ctx, "a"))

	threads, err := db.UnaskedThreads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "b", threads[0].URL)
}
