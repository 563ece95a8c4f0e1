package service

import "errors"

var (
	ErrNotStarted      = errors.New("service not started")
	ErrNoMatch         = errors.New("no match has been started")
	ErrMatchInProgress = errors.New("a match is already in progress")
)
