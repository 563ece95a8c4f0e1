package recipe

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Catalog indexes recipes and levels by id. It is read-only after construction.
type Catalog struct {
	recipes map[string]*Recipe
	levels  map[string]*Level
}

type catalogFile struct {
	Recipes []Recipe `yaml:"recipes"`
	Levels  []Level  `yaml:"levels"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(bytes.NewReader(defaultCatalog))
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse decodes and validates a YAML catalog.
func Parse(r io.Reader) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	return New(file.Recipes, file.Levels)
}

// New builds a catalog from already decoded data, applying defaults and validating references.
func New(recipes []Recipe, levels []Level) (*Catalog, error) {
	c := &Catalog{
		recipes: make(map[string]*Recipe, len(recipes)),
		levels:  make(map[string]*Level, len(levels)),
	}

	for i := range recipes {
		r := recipes[i]
		if r.ID == "" {
			return nil, fmt.Errorf("%w: recipe #%d has no id", ErrInvalidCatalog, i)
		}
		if _, dup := c.recipes[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate recipe %q", ErrInvalidCatalog, r.ID)
		}
		if len(r.Required) == 0 {
			return nil, fmt.Errorf("%w: recipe %q requires nothing", ErrInvalidCatalog, r.ID)
		}
		for _, req := range r.Required {
			if req.Type == "" || req.Count <= 0 {
				return nil, fmt.Errorf("%w: recipe %q has an empty requirement", ErrInvalidCatalog, r.ID)
			}
		}
		if r.BaseCookTime < 0 || r.BurnTime < 0 || r.TimeLimit < 0 {
			return nil, fmt.Errorf("%w: recipe %q has negative timings", ErrInvalidCatalog, r.ID)
		}
		r.applyDefaults()
		c.recipes[r.ID] = &r
	}

	for i := range levels {
		l := levels[i]
		if l.ID == "" {
			return nil, fmt.Errorf("%w: level #%d has no id", ErrInvalidCatalog, i)
		}
		if _, dup := c.levels[l.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate level %q", ErrInvalidCatalog, l.ID)
		}
		l.applyDefaults()
		if err := c.validateLevel(&l); err != nil {
			return nil, err
		}
		c.levels[l.ID] = &l
	}
	return c, nil
}

func (c *Catalog) validateLevel(l *Level) error {
	switch {
	case l.Duration <= 0:
		return fmt.Errorf("%w: level %q needs a positive duration", ErrInvalidCatalog, l.ID)
	case l.MinOrderDelay <= 0 || l.MaxOrderDelay <= 0:
		return fmt.Errorf("%w: level %q needs positive order delays", ErrInvalidCatalog, l.ID)
	case l.MinOrderDelay > l.MaxOrderDelay:
		return fmt.Errorf("%w: level %q has min_order_delay > max_order_delay", ErrInvalidCatalog, l.ID)
	case l.MaxSimultaneousOrders < 0:
		return fmt.Errorf("%w: level %q has negative max_simultaneous_orders", ErrInvalidCatalog, l.ID)
	case len(l.Recipes) == 0:
		return fmt.Errorf("%w: level %q has an empty recipe pool", ErrInvalidCatalog, l.ID)
	}
	for _, id := range l.Recipes {
		if _, ok := c.recipes[id]; !ok {
			return fmt.Errorf("%w: level %q references %w %q", ErrInvalidCatalog, l.ID, ErrUnknownRecipe, id)
		}
	}
	seen := map[string]bool{}
	for _, s := range l.Stations {
		if s.ID == "" || seen[s.ID] {
			return fmt.Errorf("%w: level %q has a missing or duplicate station id %q", ErrInvalidCatalog, l.ID, s.ID)
		}
		seen[s.ID] = true
		if !s.Kind.Valid() {
			return fmt.Errorf("%w: station %q has unknown kind %q", ErrInvalidCatalog, s.ID, s.Kind)
		}
	}
	return nil
}

// Recipe looks up a recipe by id.
func (c *Catalog) Recipe(id string) (*Recipe, error) {
	r, ok := c.recipes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecipe, id)
	}
	return r, nil
}

// Level looks up a level by id.
func (c *Catalog) Level(id string) (*Level, error) {
	l, ok := c.levels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLevel, id)
	}
	return l, nil
}

// Pool resolves the recipes a level draws orders from, in declaration order.
func (c *Catalog) Pool(l *Level) []*Recipe {
	out := make([]*Recipe, 0, len(l.Recipes))
	for _, id := range l.Recipes {
		out = append(out, c.recipes[id])
	}
	return out
}

// LevelIDs returns all level ids sorted.
func (c *Catalog) LevelIDs() []string {
	ids := make([]string, 0, len(c.levels))
	for id := range c.levels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
