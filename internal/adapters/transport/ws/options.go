package ws

import (
	"time"

	"github.com/okian/reciperage/pkg/logger"
)

const (
	defaultSendBuffer = 256
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxCommandSize    = 64 * 1024
)

// Option configures a Hub.
type Option func(*Hub)

// WithSendBuffer sets how many frames may wait for a slow client before frames are dropped.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(fn func(origin string) bool) Option {
	return func(h *Hub) {
		if fn != nil {
			h.checkOrigin = fn
		}
	}
}
