package controller

import "errors"

// ErrConnection wraps failures opening or closing the transport.
var ErrConnection = errors.New("connection error")

// ErrNotConnected is returned by operations that require an open connection.
var ErrNotConnected = errors.New("not connected")
