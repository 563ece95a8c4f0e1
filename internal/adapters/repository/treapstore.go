package repository

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/reciperage/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: score DESC, then playerID ASC (deterministic). "less" means ranks
// earlier, so an in-order walk produces the leaderboard from best to worst.
// Ranks are competition ranks: tied scores share a rank and the next distinct
// score skips past them (100, 90, 90, 80 -> 1, 2, 2, 4).

// record is a player's best.
type record struct {
	score   int
	matchID string
	team    string
	at      time.Time
}

// Snapshot is an immutable view of the leaderboard rebuilt periodically.
type Snapshot struct {
	RankByPlayer map[string]int
	Top          []Entry // best first, at most topCacheSize
	Players      int
	BuiltAt      time.Time
}

type node struct {
	id    string
	score int
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func less(aScore int, aID string, bScore int, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score int, prio uint64) *node {
	if n == nil {
		return &node{id: id, score: score, prio: prio, size: 1}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score int) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	case less(score, id, n.score, n.id):
		n.left = deleteNode(n.left, id, score)
	default:
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// countAbove returns how many nodes hold a score strictly greater than score.
func countAbove(n *node, score int) int {
	count := 0
	for n != nil {
		if n.score > score {
			count += 1 + nsize(n.left)
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

// collectTopN appends up to limit entries in rank order. Ranks are filled in by the caller.
func collectTopN(n *node, limit int, records map[string]record, out *[]Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, records, out)
	if len(*out) < limit {
		rec := records[n.id]
		*out = append(*out, Entry{PlayerID: n.id, Score: rec.score, MatchID: rec.matchID, Team: rec.team})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, records, out)
	}
}

// assignRanks fills competition ranks into an ordered prefix of the leaderboard.
func assignRanks(entries []Entry) {
	for i := range entries {
		if i > 0 && entries[i].Score == entries[i-1].Score {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}

// TreapStore is the in-memory leaderboard.
type TreapStore struct {
	mu   sync.RWMutex
	root *node
	byID map[string]record
	rng  *rand.Rand
	seed uint64

	snapshotInterval time.Duration
	topCacheSize     int
	snapshot         atomic.Pointer[Snapshot]

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTreapStore builds an empty leaderboard and starts its snapshot loop, which
// stops with ctx or Close.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		byID:             make(map[string]record),
		snapshotInterval: time.Second,
		topCacheSize:     100,
		seed:             uint64(time.Now().UnixNano()),
		stopChan:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rng = rand.New(rand.NewPCG(s.seed, s.seed^0x9e3779b97f4a7c15))
	s.publishSnapshot()
	s.startPeriodicSnapshots(ctx)
	return s
}

func (s *TreapStore) startPeriodicSnapshots(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.snapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.publishSnapshot()
			}
		}
	}()
}

// Close stops the snapshot loop.
func (s *TreapStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// UpdateBest implements Store in O(log n) expected time.
func (s *TreapStore) UpdateBest(_ context.Context, playerID string, score int, matchID, team string) (bool, error) {
	if playerID == "" {
		return false, ErrInvalidID
	}

	s.mu.Lock()
	if old, ok := s.byID[playerID]; ok {
		if score <= old.score {
			s.mu.Unlock()
			return false, nil
		}
		s.root = deleteNode(s.root, playerID, old.score)
	}
	s.byID[playerID] = record{score: score, matchID: matchID, team: team, at: time.Now()}
	s.root = insert(s.root, playerID, score, s.rng.Uint64())
	count := len(s.byID)
	s.mu.Unlock()

	metrics.RecordLeaderboardUpdate()
	metrics.UpdateLeaderboardPlayers(count)
	return true, nil
}

// Rank implements Store in O(log n) expected time.
func (s *TreapStore) Rank(_ context.Context, playerID string) (Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordRepositoryQueryLatency(ms(start)) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[playerID]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return Entry{}, ErrNotFound
	}
	return Entry{
		Rank:     countAbove(s.root, rec.score) + 1,
		PlayerID: playerID,
		Score:    rec.score,
		MatchID:  rec.matchID,
		Team:     rec.team,
	}, nil
}

// TopN implements Store.
func (s *TreapStore) TopN(_ context.Context, n int) ([]Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordRepositoryQueryLatency(ms(start)) }()

	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, min(n, len(s.byID)))
	collectTopN(s.root, n, s.byID, &out)
	assignRanks(out)
	return out, nil
}

// Count implements Store.
func (s *TreapStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Snapshot implements Store.
func (s *TreapStore) Snapshot() *Snapshot { return s.snapshot.Load() }

func (s *TreapStore) publishSnapshot() {
	start := time.Now()

	s.mu.RLock()
	all := make([]Entry, 0, len(s.byID))
	collectTopN(s.root, len(s.byID), s.byID, &all)
	s.mu.RUnlock()

	assignRanks(all)
	ranks := make(map[string]int, len(all))
	for _, e := range all {
		ranks[e.PlayerID] = e.Rank
	}
	top := all
	if len(top) > s.topCacheSize {
		top = append([]Entry(nil), top[:s.topCacheSize]...)
	}
	s.snapshot.Store(&Snapshot{
		RankByPlayer: ranks,
		Top:          top,
		Players:      len(all),
		BuiltAt:      time.Now(),
	})
	metrics.RecordRepositorySnapshotLatency(ms(start))
}

func ms(start time.Time) float64 { return float64(time.Since(start).Microseconds()) / 1000 }
