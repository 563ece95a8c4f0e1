package station

import "errors"

var (
	// ErrInvalidState is returned for commands the current state does not accept.
	ErrInvalidState = errors.New("invalid station state")
	// ErrWrongKind is returned for commands the station's kind does not support.
	ErrWrongKind = errors.New("wrong station kind")

	ErrTrayFull       = errors.New("station tray full")
	ErrTrayEmpty      = errors.New("not enough ingredients on tray")
	ErrRecipeMismatch = errors.New("ingredients do not match recipe")
)
