package model

import "time"

// TeamScore is a team's points in a match.
type TeamScore struct {
	Team  string `json:"team"`
	Score int    `json:"score"`
}

// MatchResult is what gets persisted when a match reaches game over.
type MatchResult struct {
	MatchID   string            `json:"match_id"`
	LevelID   string            `json:"level_id"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at"`
	Scores    []TeamScore       `json:"scores"`
	Players   map[string]string `json:"players"` // player id -> team
	Delivered int               `json:"delivered"`
	Failed    int               `json:"failed"`
	Expired   int               `json:"expired"`
	Plated    int               `json:"plated"`
}

// TeamScoreOf returns the score of team, or 0 if it did not play.
func (r MatchResult) TeamScoreOf(team string) int {
	for _, s := range r.Scores {
		if s.Team == team {
			return s.Score
		}
	}
	return 0
}

// Progression is a player's long-lived record across matches.
type Progression struct {
	PlayerID      string    `json:"player_id"`
	Trophies      int       `json:"trophies"`
	MatchesPlayed int       `json:"matches_played"`
	BestScore     int       `json:"best_score"`
	LastMatchID   string    `json:"last_match_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Apply folds a finished match into the progression: trophies grow by the team score.
func (p Progression) Apply(result MatchResult, team string, at time.Time) Progression {
	score := result.TeamScoreOf(team)
	p.Trophies += score
	p.MatchesPlayed++
	if score > p.BestScore {
		p.BestScore = score
	}
	p.LastMatchID = result.MatchID
	p.UpdatedAt = at
	return p
}
