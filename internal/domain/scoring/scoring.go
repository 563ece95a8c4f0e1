// Package scoring evaluates dishes against recipes and computes delivery points.
//
// The evaluation functions are pure: they never mutate their inputs and are safe
// to call from any goroutine.
package scoring

import (
	"math"
	"sort"

	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/recipe"
)

const (
	thresholdBonusWeight  = 2.0
	difficultyBonusWeight = 0.2
)

// ValidateIngredients reports whether held satisfies every requirement of r:
// at least Count items of the required type at MinQuality or better.
func ValidateIngredients(r *recipe.Recipe, held []model.InventoryItem) bool {
	for _, req := range r.Required {
		n := 0
		for _, it := range held {
			if it.Type == req.Type && it.Quality >= req.MinQuality {
				n++
			}
		}
		if n < req.Count {
			return false
		}
	}
	return true
}

// CalculateQuality returns the dish quality in [0,1].
//
// Each requirement contributes the average of its top-Count items of that type;
// a requirement with no matching item yields 0. Optional bonuses multiply by
// 1+QualityBonus. Finally the result is scaled by how close cookProgress landed to
// the recipe's optimal threshold.
func CalculateQuality(r *recipe.Recipe, held []model.InventoryItem, cookProgress float64) float64 {
	if math.IsNaN(cookProgress) || math.IsInf(cookProgress, 0) {
		return 0
	}

	quality := 1.0
	for _, req := range r.Required {
		avg, ok := topAverage(held, req.Type, req.Count)
		if !ok {
			return 0
		}
		quality *= avg
	}

	for _, bonus := range r.Optional {
		for _, it := range held {
			if it.Type == bonus.Type && it.Quality >= bonus.MinQuality {
				quality *= 1 + bonus.QualityBonus
				break
			}
		}
	}

	quality *= 1 - math.Abs(cookProgress-r.OptimalQualityThreshold)
	return clamp01(quality)
}

// CalculatePoints converts a quality into points:
// round(base * (1 + max(0, quality-threshold)*2 + difficulty*0.2)).
func CalculatePoints(r *recipe.Recipe, quality float64) int {
	mult := 1.0
	if quality >= r.OptimalQualityThreshold {
		mult += (quality - r.OptimalQualityThreshold) * thresholdBonusWeight
	}
	mult += float64(r.Difficulty) * difficultyBonusWeight
	return int(math.Round(float64(r.BasePoints) * mult))
}

// topAverage averages the qualities of the best n items of type t.
// It reports false when no item of that type is held.
func topAverage(held []model.InventoryItem, t model.IngredientType, n int) (float64, bool) {
	var qs []float64
	for _, it := range held {
		if it.Type == t {
			q := it.Quality
			if math.IsNaN(q) {
				q = 0
			}
			qs = append(qs, q)
		}
	}
	if len(qs) == 0 || n <= 0 {
		return 0, false
	}
	sort.SliceStable(qs, func(i, j int) bool { return qs[i] > qs[j] })
	if n > len(qs) {
		n = len(qs)
	}
	sum := 0.0
	for _, q := range qs[:n] {
		sum += q
	}
	return sum / float64(n), true
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
