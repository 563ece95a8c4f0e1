package repository

import "errors"

// Sentinel kinds for leaderboard errors.
var (
	ErrNotFound     = errors.New("player not found")
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
	ErrInvalidID    = errors.New("player id must not be empty")
)
