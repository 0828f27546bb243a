package network

import "errors"

var (
	ErrConnectionClosed   = errors.New("connection closed")
	ErrConnectionLimit    = errors.New("connection limit reached")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrListenerClosed     = errors.New("listener closed")
)
