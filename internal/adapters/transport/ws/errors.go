package ws

import "errors"

// Sentinel errors for the WebSocket transport.
var (
	ErrUnknownClient = errors.New("unknown client")
	ErrSendBuffer    = errors.New("client send buffer full")
	ErrHubClosed     = errors.New("hub closed")
)
