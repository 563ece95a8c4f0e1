// Package repository keeps the cross-match leaderboard: each player's best
// match score, ranked.
package repository

import (
	"context"

	"github.com/okian/reciperage/internal/domain/types"
)

// Entry is a leaderboard row.
type Entry = types.Entry

// Store provides read/write access to the leaderboard.
type Store interface {
	// UpdateBest records score for player if it beats their current best.
	// Returns true if the store changed.
	UpdateBest(ctx context.Context, playerID string, score int, matchID, team string) (bool, error)

	// Rank returns the player's rank and best score.
	// Returns ErrNotFound if the player has never finished a match.
	Rank(ctx context.Context, playerID string) (Entry, error)

	// TopN returns the top-N entries, best first.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// Count returns the number of ranked players.
	Count(ctx context.Context) int

	// Snapshot returns the last periodic snapshot, or nil before the first one.
	Snapshot() *Snapshot
}
