package stamps

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/kibitzhq/kibitz/internal/storage"
	"github.com/kibitzhq/kibitz/internal/telemetry"
)

// Weights carried by the two award reactions.
const (
	StampWeight     = 1
	GoldStampWeight = 5
)

// Snapshot is an immutable view of the solved score vector. Readers get
// whichever snapshot was current when they asked; the engine publishes a
// new one by pointer swap after every successful recompute.
type Snapshot struct {
	scores     map[string]float64
	totalVotes int64
	computedAt time.Time
}

// Score returns the normalized trust weight of a user, 0 if unknown.
func (s *Snapshot) Score(userID string) float64 {
	if s == nil {
		return 0
	}
	return s.scores[userID]
}

// StampValue scales a user's normalized score by the total signed vote
// weight in the graph, excluding the root's boundary vote.
func (s *Snapshot) StampValue(userID string) float64 {
	if s == nil {
		return 0
	}
	return s.scores[userID] * float64(s.totalVotes)
}

// TotalVotes is the signed sum of all vote weights excluding the root's.
func (s *Snapshot) TotalVotes() int64 {
	if s == nil {
		return 0
	}
	return s.totalVotes
}

func (s *Snapshot) ComputedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.computedAt
}

// Engine owns the vote graph. All writes go through AddVote under a
// single mutex; everyone else reads score snapshots.
type Engine struct {
	db     *storage.DB
	logger *slog.Logger

	rootID      string
	seedID      string
	assistantID string
	gamma       float64

	mu     sync.Mutex
	byFrom map[string]map[string]int64

	snapshot atomic.Pointer[Snapshot]
	warned   bool

	recomputes otelmetric.Int64Counter
}

func NewEngine(db *storage.DB, rootID, seedID, assistantID string, gamma float64, logger *slog.Logger) *Engine {
	meter := telemetry.Meter("kibitz/stamps")
	recomputes, _ := meter.Int64Counter("kibitz.stamps.recomputes")

	return &Engine{
		db:          db,
		logger:      logger.With("component", "stamps"),
		rootID:      rootID,
		seedID:      seedID,
		assistantID: assistantID,
		gamma:       gamma,
		byFrom:      make(map[string]map[string]int64),
		recomputes:  recomputes,
	}
}

// Load pins the root boundary vote, reads the persisted graph and solves
// it. Must be called once before the engine serves reads.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.db.SetVote(ctx, e.rootID, e.seedID, 1); err != nil {
		return fmt.Errorf("pin root vote: %w", err)
	}
	rows, err := e.db.LoadVotes(ctx)
	if err != nil {
		return fmt.Errorf("load votes: %w", err)
	}

	e.byFrom = make(map[string]map[string]int64, len(rows))
	for _, r := range rows {
		e.setEdge(r.FromID, r.ToID, r.Weight)
	}
	e.recompute()

	snap := e.snapshot.Load()
	e.logger.Info("vote graph loaded",
		"edges", len(rows),
		"total_votes", snap.TotalVotes())
	return nil
}

// AddVote applies a signed weight delta to the edge from one user to
// another, persists it and republishes scores. Self-votes, votes
// targeting the assistant and votes cast by the root are ignored; the
// root's outbound weight is fixed by its boundary vote.
func (e *Engine) AddVote(ctx context.Context, fromID, toID string, delta int64) error {
	if fromID == toID || toID == e.assistantID || fromID == e.rootID || delta == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	weight, err := e.db.ApplyVote(ctx, fromID, toID, delta)
	if err != nil {
		return fmt.Errorf("apply vote %s->%s: %w", fromID, toID, err)
	}
	e.setEdge(fromID, toID, weight)
	e.recompute()
	return nil
}

// Snapshot returns the current score view. Never nil after Load.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// StampValue is a convenience read against the current snapshot.
func (e *Engine) StampValue(userID string) float64 {
	return e.snapshot.Load().StampValue(userID)
}

// TotalVotes is a convenience read against the current snapshot.
func (e *Engine) TotalVotes() int64 {
	return e.snapshot.Load().TotalVotes()
}

// setEdge records a cumulative edge weight. Caller holds e.mu.
func (e *Engine) setEdge(from, to string, weight int64) {
	row, ok := e.byFrom[from]
	if !ok {
		row = make(map[string]int64)
		e.byFrom[from] = row
	}
	if weight == 0 {
		delete(row, to)
		if len(row) == 0 {
			delete(e.byFrom, from)
		}
		return
	}
	row[to] = weight
}

// recompute solves the graph and swaps in a fresh snapshot. On solver
// failure the previous snapshot stays current and a single warning is
// logged until the next success. Caller holds e.mu.
func (e *Engine) recompute() {
	index, incoming, totalVotes := e.buildSystem()

	scores, err := solve(incoming, e.gamma)
	if e.recomputes != nil {
		e.recomputes.Add(context.Background(), 1, otelmetric.WithAttributes(
			attribute.Bool("success", err == nil)))
	}
	if err != nil {
		if !e.warned {
			e.logger.Warn("score recompute failed, keeping previous scores", "error", err)
			e.warned = true
		}
		return
	}
	e.warned = false

	values := make(map[string]float64, len(index))
	for i, id := range index {
		values[id] = scores[i]
	}
	e.snapshot.Store(&Snapshot{
		scores:     values,
		totalVotes: totalVotes,
		computedAt: time.Now().UTC(),
	})
}

// buildSystem turns the adjacency map into the normalized sparse system.
// The user index is the root followed by every other participant in
// sorted order, so identical graphs produce identical solver input.
// Caller holds e.mu.
//
// Only positive cumulative edges enter the system: an edge whose awards
// have been fully retracted carries no trust, and a net-negative edge
// would let scores go below zero. The outbound normalizer for each voter
// is likewise the sum of their positive edges.
func (e *Engine) buildSystem() (index []string, incoming [][]edge, totalVotes int64) {
	seen := map[string]bool{e.rootID: true}
	index = []string{e.rootID}
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			index = append(index, id)
		}
	}
	for from, row := range e.byFrom {
		add(from)
		for to := range row {
			add(to)
		}
	}
	sort.Strings(index[1:])

	pos := make(map[string]int, len(index))
	for i, id := range index {
		pos[id] = i
	}

	incoming = make([][]edge, len(index))
	for _, from := range index {
		row := e.byFrom[from]
		var outbound int64
		for _, w := range row {
			if w > 0 {
				outbound += w
			}
		}
		if outbound <= 0 {
			continue
		}
		j := pos[from]
		for to, w := range row {
			if w <= 0 {
				continue
			}
			i := pos[to]
			incoming[i] = append(incoming[i], edge{from: j, fraction: float64(w) / float64(outbound)})
			if from != e.rootID {
				totalVotes += w
			}
		}
	}

	// Bit-identical replays need a stable edge order within each row.
	for i := range incoming {
		sort.Slice(incoming[i], func(a, b int) bool {
			return incoming[i][a].from < incoming[i][b].from
		})
	}
	return index, incoming, totalVotes
}
