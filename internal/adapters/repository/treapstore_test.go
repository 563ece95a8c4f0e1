package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts ...Option) *TreapStore {
	t.Helper()
	s := NewTreapStore(context.Background(), append([]Option{WithSeed(42), WithSnapshotInterval(time.Hour)}, opts...)...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTreapStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if count := store.Count(ctx); count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}

	updated, err := store.UpdateBest(ctx, "chef1", 85, "m-1", "red")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated {
		t.Error("expected update to succeed")
	}

	entry, err := store.Rank(ctx, "chef1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Rank != 1 || entry.Score != 85 || entry.MatchID != "m-1" || entry.Team != "red" {
		t.Errorf("unexpected entry %+v", entry)
	}

	entries, err := store.TopN(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].PlayerID != "chef1" {
		t.Errorf("unexpected top %+v", entries)
	}
}

func TestTreapStore_OnlyImprovementsCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, _ = store.UpdateBest(ctx, "chef1", 50, "m-1", "red")
	if updated, _ := store.UpdateBest(ctx, "chef1", 40, "m-2", "red"); updated {
		t.Error("lower score must not replace the best")
	}
	if updated, _ := store.UpdateBest(ctx, "chef1", 50, "m-3", "red"); updated {
		t.Error("equal score must not replace the best")
	}
	if updated, _ := store.UpdateBest(ctx, "chef1", 70, "m-4", "blue"); !updated {
		t.Error("higher score must replace the best")
	}

	entry, _ := store.Rank(ctx, "chef1")
	if entry.Score != 70 || entry.MatchID != "m-4" || entry.Team != "blue" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if store.Count(ctx) != 1 {
		t.Errorf("expected one player, got %d", store.Count(ctx))
	}
}

func TestTreapStore_TiesShareRank(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for id, score := range map[string]int{"d": 80, "b": 90, "a": 100, "c": 90} {
		_, _ = store.UpdateBest(ctx, id, score, "", "")
	}

	top, err := store.TopN(ctx, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []struct {
		id   string
		rank int
	}{{"a", 1}, {"b", 2}, {"c", 2}, {"d", 4}}
	for i, w := range want {
		if top[i].PlayerID != w.id || top[i].Rank != w.rank {
			t.Errorf("position %d: got %s/%d, want %s/%d", i, top[i].PlayerID, top[i].Rank, w.id, w.rank)
		}
	}

	for _, w := range want {
		e, err := store.Rank(ctx, w.id)
		if err != nil {
			t.Fatalf("rank %s: %v", w.id, err)
		}
		if e.Rank != w.rank {
			t.Errorf("Rank(%s) = %d, want %d", w.id, e.Rank, w.rank)
		}
	}
}

func TestTreapStore_Errors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.Rank(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.TopN(ctx, 0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
	if _, err := store.UpdateBest(ctx, "", 10, "", ""); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

// TestTreapStore_MatchesSortedReference checks ordering and ranks against a plain sort.
func TestTreapStore_MatchesSortedReference(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rng := rand.New(rand.NewPCG(7, 11))

	best := make(map[string]int)
	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("chef-%03d", rng.IntN(300))
		score := rng.IntN(500)
		_, _ = store.UpdateBest(ctx, id, score, "", "")
		if old, ok := best[id]; !ok || score > old {
			best[id] = score
		}
	}

	ref := make([]Entry, 0, len(best))
	for id, score := range best {
		ref = append(ref, Entry{PlayerID: id, Score: score})
	}
	sort.Slice(ref, func(i, j int) bool {
		if ref[i].Score != ref[j].Score {
			return ref[i].Score > ref[j].Score
		}
		return ref[i].PlayerID < ref[j].PlayerID
	})
	assignRanks(ref)

	top, err := store.TopN(ctx, len(ref)+10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(top) != len(ref) {
		t.Fatalf("expected %d entries, got %d", len(ref), len(top))
	}
	for i := range ref {
		if top[i] != ref[i] {
			t.Fatalf("position %d: got %+v, want %+v", i, top[i], ref[i])
		}
		e, _ := store.Rank(ctx, ref[i].PlayerID)
		if e.Rank != ref[i].Rank {
			t.Fatalf("Rank(%s) = %d, want %d", ref[i].PlayerID, e.Rank, ref[i].Rank)
		}
	}
}

func TestTreapStore_Snapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, WithTopCacheSize(2))

	if snap := store.Snapshot(); snap == nil || snap.Players != 0 {
		t.Fatalf("expected an empty initial snapshot, got %+v", snap)
	}

	_, _ = store.UpdateBest(ctx, "a", 30, "", "")
	_, _ = store.UpdateBest(ctx, "b", 20, "", "")
	_, _ = store.UpdateBest(ctx, "c", 10, "", "")
	if store.Snapshot().Players != 0 {
		t.Error("snapshot must not change until it is rebuilt")
	}

	store.publishSnapshot()
	snap := store.Snapshot()
	if snap.Players != 3 || len(snap.Top) != 2 || snap.RankByPlayer["c"] != 3 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestTreapStore_PeriodicSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx, WithSnapshotInterval(10*time.Millisecond))
	defer func() { _ = store.Close() }()

	_, _ = store.UpdateBest(ctx, "a", 1, "", "")
	deadline := time.Now().Add(2 * time.Second)
	for store.Snapshot().Players != 1 {
		if time.Now().After(deadline) {
			t.Fatal("snapshot was never rebuilt")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTreapStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("chef-%d", i%50)
				_, _ = store.UpdateBest(ctx, id, w*1000+i, "", "")
				_, _ = store.TopN(ctx, 10)
				_, _ = store.Rank(ctx, id)
			}
		}(w)
	}
	wg.Wait()

	if store.Count(ctx) != 50 {
		t.Errorf("expected 50 players, got %d", store.Count(ctx))
	}
	top, _ := store.TopN(ctx, 1)
	if top[0].Score != 7*1000+199 {
		t.Errorf("unexpected best %+v", top[0])
	}
}

func BenchmarkTreapStore_UpdateBest(b *testing.B) {
	ctx := context.Background()
	store := NewTreapStore(ctx, WithSeed(1), WithSnapshotInterval(time.Hour))
	defer func() { _ = store.Close() }()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.UpdateBest(ctx, fmt.Sprintf("chef-%d", i%10_000), i, "", "")
	}
}

func BenchmarkTreapStore_Rank(b *testing.B) {
	ctx := context.Background()
	store := NewTreapStore(ctx, WithSeed(1), WithSnapshotInterval(time.Hour))
	defer func() { _ = store.Close() }()
	for i := 0; i < 10_000; i++ {
		_, _ = store.UpdateBest(ctx, fmt.Sprintf("chef-%d", i), i%997, "", "")
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Rank(ctx, fmt.Sprintf("chef-%d", i%10_000))
	}
}
