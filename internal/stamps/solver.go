package stamps

import (
	"errors"
	"math"
)

// maxSweeps bounds the fixed-point iteration. Vote graphs are tiny
// (thousands of users at most) and diagonally dominated in practice, so
// convergence is fast; the bound only matters for pathological cycles,
// where the final iterate is still a usable score vector.
const (
	maxSweeps = 200
	tolerance = 1e-12
)

var errSolverDiverged = errors.New("stamps: solver produced non-finite scores")

// edge is one normalized incoming vote: the voter's index and the
// fraction of the voter's total voting weight spent on this target.
type edge struct {
	from     int
	fraction float64
}

// solve computes the score vector for a normalized vote graph.
//
// incoming[i] lists the votes received by user i. Index 0 is the trust
// root and is pinned to a score of 1; every other score is the
// discounted, vote-weighted sum of its voters' scores. The system is
// solved by Gauss-Seidel sweeps from a zero start over a fixed user
// order, so a given graph always yields bit-identical output.
func solve(incoming [][]edge, gamma float64) ([]float64, error) {
	n := len(incoming)
	scores := make([]float64, n)
	if n == 0 {
		return scores, nil
	}
	scores[0] = 1

	for sweep := 0; sweep < maxSweeps; sweep++ {
		var maxDelta float64
		for i := 1; i < n; i++ {
			var sum float64
			for _, e := range incoming[i] {
				sum += gamma * e.fraction * scores[e.from]
			}
			if delta := math.Abs(sum - scores[i]); delta > maxDelta {
				maxDelta = delta
			}
			scores[i] = sum
		}
		if maxDelta < tolerance {
			break
		}
	}

	for _, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, errSolverDiverged
		}
	}
	return scores, nil
}
