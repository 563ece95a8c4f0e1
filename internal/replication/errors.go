package replication

import "errors"

// Sentinel errors for the replication layer.
var (
	ErrMalformed      = errors.New("malformed message")
	ErrSequenceGap    = errors.New("delta sequence gap")
	ErrNotSynced      = errors.New("mirror has no snapshot yet")
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidCommand = errors.New("invalid command")
	ErrInboxFull      = errors.New("command inbox full")
	ErrMatchOver      = errors.New("match is over")
)
