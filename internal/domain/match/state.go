package match

import (
	"fmt"
	"time"

	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/order"
	"github.com/okian/reciperage/internal/domain/station"
)

// Phase of a match.
type Phase uint8

const (
	PreGame Phase = iota
	InGame
	GameOver
)

func (p Phase) String() string {
	switch p {
	case PreGame:
		return "pre_game"
	case InGame:
		return "in_game"
	case GameOver:
		return "game_over"
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// View is the replicated match-wide state.
type View struct {
	Phase     Phase
	Remaining time.Duration
	Scores    []model.TeamScore
}

// Equal compares two views field by field.
func (v View) Equal(o View) bool {
	if v.Phase != o.Phase || v.Remaining != o.Remaining || len(v.Scores) != len(o.Scores) {
		return false
	}
	for i := range v.Scores {
		if v.Scores[i] != o.Scores[i] {
			return false
		}
	}
	return true
}

// Score returns the score of team in the view.
func (v View) Score(team string) int {
	for _, s := range v.Scores {
		if s.Team == team {
			return s.Score
		}
	}
	return 0
}

// Snapshot is a full copy of the match state, safe to hand to other goroutines.
type Snapshot struct {
	MatchID  string
	LevelID  string
	View     View
	Stations []station.Snapshot
	Orders   []order.Order
}
