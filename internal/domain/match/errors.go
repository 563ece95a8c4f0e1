package match

import "errors"

var (
	ErrInvalidPhase   = errors.New("invalid match phase")
	ErrUnknownStation = errors.New("unknown station")
	ErrUnknownTeam    = errors.New("unknown team")
)
