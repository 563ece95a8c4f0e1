package recipe

import "time"

// StationKind is how a station processes its ingredient.
type StationKind string

const (
	StationCooking  StationKind = "cooking"
	StationChopping StationKind = "chopping"
	// StationPlating combines a tray of ingredients into a scored dish.
	StationPlating StationKind = "plating"
	// StationMixing combines a tray of ingredients into one mixed ingredient.
	StationMixing StationKind = "mixing"
)

// Assembles reports whether the station works on a tray of ingredients
// instead of a single one.
func (k StationKind) Assembles() bool {
	return k == StationPlating || k == StationMixing
}

// Valid reports whether k is a known kind.
func (k StationKind) Valid() bool {
	switch k {
	case StationCooking, StationChopping, StationPlating, StationMixing:
		return true
	}
	return false
}

// StationSpec declares a station in a level. Zero timings fall back to the recipe defaults.
// For plating and mixing CookTime is the time the assembly takes and Capacity
// caps the tray.
type StationSpec struct {
	ID       string        `yaml:"id" json:"id"`
	Kind     StationKind   `yaml:"kind" json:"kind"`
	CookTime time.Duration `yaml:"cook_time" json:"cook_time"`
	BurnTime time.Duration `yaml:"burn_time" json:"burn_time"`
	Capacity int           `yaml:"capacity" json:"capacity"`
}

// DefaultsFor returns the cook time and tray capacity a kind uses when a spec leaves them unset.
func DefaultsFor(k StationKind) (time.Duration, int) {
	switch k {
	case StationPlating:
		return DefaultPlateTime, DefaultPlateCapacity
	case StationMixing:
		return DefaultMixTime, DefaultMixCapacity
	}
	return DefaultCookTime, 0
}

// Level describes a playable kitchen.
type Level struct {
	ID                    string        `yaml:"id" json:"id"`
	Name                  string        `yaml:"name" json:"name"`
	Duration              time.Duration `yaml:"duration" json:"duration"`
	MinOrderDelay         time.Duration `yaml:"min_order_delay" json:"min_order_delay"`
	MaxOrderDelay         time.Duration `yaml:"max_order_delay" json:"max_order_delay"`
	MaxSimultaneousOrders int           `yaml:"max_simultaneous_orders" json:"max_simultaneous_orders"`
	Recipes               []string      `yaml:"recipes" json:"recipes"`
	Teams                 []string      `yaml:"teams" json:"teams"`
	Stations              []StationSpec `yaml:"stations" json:"stations"`
}

// HasTeam reports whether team plays in this level.
func (l *Level) HasTeam(team string) bool {
	for _, t := range l.Teams {
		if t == team {
			return true
		}
	}
	return false
}

func (l *Level) applyDefaults() {
	if l.MaxSimultaneousOrders == 0 {
		l.MaxSimultaneousOrders = 3
	}
	if len(l.Teams) == 0 {
		l.Teams = []string{"red", "blue"}
	}
	if l.Name == "" {
		l.Name = l.ID
	}
	for i := range l.Stations {
		if l.Stations[i].Kind == "" {
			l.Stations[i].Kind = StationCooking
		}
		cook, capacity := DefaultsFor(l.Stations[i].Kind)
		if l.Stations[i].CookTime == 0 {
			l.Stations[i].CookTime = cook
		}
		if l.Stations[i].Capacity == 0 {
			l.Stations[i].Capacity = capacity
		}
		if l.Stations[i].BurnTime == 0 {
			l.Stations[i].BurnTime = DefaultBurnTime
		}
	}
}
