package websocket

import "errors"

var (
	ErrClientQueueFull    = errors.New("client message queue is full")
	ErrInvalidFrame       = errors.New("invalid frame format")
	ErrUnknownDestination = errors.New("unknown destination")
	ErrHubStopped         = errors.New("hub stopped")
)
