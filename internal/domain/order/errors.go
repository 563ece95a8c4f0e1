package order

import "errors"

// ErrOrderNotFound is returned when delivering to an order that is not active.
var ErrOrderNotFound = errors.New("order not found")
