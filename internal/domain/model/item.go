package model

// IngredientType identifies a kind of ingredient, e.g. "tomato" or "patty".
type IngredientType string

// Mixed is the ingredient a mixing station produces.
const Mixed IngredientType = "mixed"

// InventoryItem is a concrete ingredient or dish a player holds.
// Quality is expected in [0,1].
type InventoryItem struct {
	ItemID  string         `json:"item_id" yaml:"item_id"`
	Type    IngredientType `json:"type" yaml:"type"`
	Quality float64        `json:"quality" yaml:"quality"`
}
