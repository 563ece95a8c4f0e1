// Package recipe holds the static game data: recipes, levels and the catalog that indexes them.
package recipe

import (
	"time"

	"github.com/okian/reciperage/internal/domain/model"
)

// Defaults applied to recipes that leave timing or thresholds unset.
const (
	DefaultCookTime         = 10 * time.Second
	DefaultBurnTime         = 5 * time.Second
	DefaultQualityThreshold = 0.8
	DefaultOrderTimeLimit   = 120 * time.Second

	DefaultPlateTime     = 3 * time.Second
	DefaultPlateCapacity = 6
	DefaultMixTime       = 5 * time.Second
	DefaultMixCapacity   = 4
)

// IngredientRequirement asks for Count items of Type at MinQuality or better.
type IngredientRequirement struct {
	Type       model.IngredientType `yaml:"type" json:"type"`
	Count      int                  `yaml:"count" json:"count"`
	MinQuality float64              `yaml:"min_quality" json:"min_quality"`
}

// IngredientBonus multiplies dish quality by 1+QualityBonus when a matching item is held.
type IngredientBonus struct {
	Type         model.IngredientType `yaml:"type" json:"type"`
	MinQuality   float64              `yaml:"min_quality" json:"min_quality"`
	QualityBonus float64              `yaml:"quality_bonus" json:"quality_bonus"`
}

// Recipe is immutable once loaded and shared by pointer.
type Recipe struct {
	ID                      string                  `yaml:"id" json:"id"`
	Name                    string                  `yaml:"name" json:"name"`
	Difficulty              int                     `yaml:"difficulty" json:"difficulty"`
	BasePoints              int                     `yaml:"base_points" json:"base_points"`
	Reward                  int                     `yaml:"reward" json:"reward"`
	BaseCookTime            time.Duration           `yaml:"cook_time" json:"cook_time"`
	BurnTime                time.Duration           `yaml:"burn_time" json:"burn_time"`
	OptimalQualityThreshold float64                 `yaml:"optimal_quality_threshold" json:"optimal_quality_threshold"`
	TimeLimit               time.Duration           `yaml:"time_limit" json:"time_limit"`
	Required                []IngredientRequirement `yaml:"required" json:"required"`
	Optional                []IngredientBonus       `yaml:"optional" json:"optional"`
}

// RequiredTypes lists each required ingredient type repeated Count times.
func (r *Recipe) RequiredTypes() []model.IngredientType {
	var out []model.IngredientType
	for _, req := range r.Required {
		for range req.Count {
			out = append(out, req.Type)
		}
	}
	return out
}

// Requires reports whether t is one of the required ingredient types.
func (r *Recipe) Requires(t model.IngredientType) bool {
	for _, req := range r.Required {
		if req.Type == t {
			return true
		}
	}
	return false
}

func (r *Recipe) applyDefaults() {
	if r.BaseCookTime == 0 {
		r.BaseCookTime = DefaultCookTime
	}
	if r.BurnTime == 0 {
		r.BurnTime = DefaultBurnTime
	}
	if r.OptimalQualityThreshold == 0 {
		r.OptimalQualityThreshold = DefaultQualityThreshold
	}
	if r.TimeLimit == 0 {
		r.TimeLimit = DefaultOrderTimeLimit
	}
	if r.Reward == 0 {
		r.Reward = r.BasePoints
	}
	if r.Name == "" {
		r.Name = r.ID
	}
}
