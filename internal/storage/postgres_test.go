package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kibitzhq/kibitz/internal/storage"
	"github.com/kibitzhq/kibitz/internal/testutil"
)

// Exercises the same storage surface as the sqlite tests against a real
// Postgres, catching driver-specific SQL drift.
func TestPostgresRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	tc := testutil.MustStartPostgres(t)
	db, err := tc.NewTestDB(ctx, testutil.TestLogger())
	require.NoError(t, err)
	defer db.Close()

	w, err := db.ApplyVote(ctx, "alice", "bob", 5)
	require.NoError(t, err)
	assert.EqualValues(t, 5, w)
	w, err = db.ApplyVote(ctx, "alice", "bob", -2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, w)

	require.NoError(t, db.SetVote(ctx, "root", "alice", 1))
	rows, err := db.LoadVotes(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	thread := storage.QAThread{
		URL:      "https://example.com/watch?v=1",
		Username: "carol",
		Title:    "What is a monad?",
		Text:     "asking for a friend",
	}
	require.NoError(t, db.UpsertThread(ctx, thread))
	require.NoError(t, db.MarkAsked(ctx, thread.URL))

	got, err := db.GetThread(ctx, thread.URL)
	require.NoError(t, err)
	assert.True(t, got.Asked)
	assert.False(t, got.Replied)

	unasked, err := db.UnaskedThreads(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unasked)
}
