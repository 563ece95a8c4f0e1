package recipe

import "errors"

var (
	ErrUnknownRecipe  = errors.New("unknown recipe")
	ErrUnknownLevel   = errors.New("unknown level")
	ErrInvalidCatalog = errors.New("invalid catalog")
)
