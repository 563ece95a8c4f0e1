// Package types contains common types used across the application
package types

// Entry represents a leaderboard entry
type Entry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Score    int    `json:"score"`
	MatchID  string `json:"match_id,omitempty"`
	Team     string `json:"team,omitempty"`
}
