package storage

import (
	"context"
	"fmt"
)

// VoteRow is one directed edge of the vote graph: the cumulative signed
// weight of all stamps from one user to another.
type VoteRow struct {
	FromID string
	ToID   string
	Weight int64
}

// ApplyVote adds delta to the cumulative weight of the (from, to) edge,
// creating it when absent, and returns the new weight. Negative deltas
// express retractions.
func (db *DB) ApplyVote(ctx context.Context, from, to string, delta int64) (int64, error) {
	var weight int64
	err := db.sql.QueryRowContext(ctx, `
		INSERT INTO votes (from_id, to_id, weight)
		VALUES ($1, $2, $3)
		ON CONFLICT (from_id, to_id)
		DO UPDATE SET weight = votes.weight + excluded.weight
		RETURNING weight
	`, from, to, delta).Scan(&weight)
	if err != nil {
		return 0, fmt.Errorf("storage: apply vote %s->%s: %w", from, to, err)
	}
	return weight, nil
}

// SetVote pins the (from, to) edge to an absolute weight. Used for the
// root user's fixed boundary vote.
func (db *DB) SetVote(ctx context.Context, from, to string, weight int64) error {
	_, err := db.sql.ExecContext(ctx, `
		INSERT INTO votes (from_id, to_id, weight)
		VALUES ($1, $2, $3)
		ON CONFLICT (from_id, to_id)
		DO UPDATE SET weight = excluded.weight
	`, from, to, weight)
	if err != nil {
		return fmt.Errorf("storage: set vote %s->%s: %w", from, to, err)
	}
	return nil
}

// LoadVotes returns the whole graph in deterministic order.
func (db *DB) LoadVotes(ctx context.Context) ([]VoteRow, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT from_id, to_id, weight
		FROM votes
		ORDER BY from_id, to_id
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: load votes: %w", err)
	}
	defer rows.Close()

	var out []VoteRow
	for rows.Next() {
		var r VoteRow
		if err := rows.Scan(&r.FromID, &r.ToID, &r.Weight); err != nil {
			return nil, fmt.Errorf("storage: scan vote: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
