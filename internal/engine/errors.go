package engine

import "errors"

// ErrTimeout is returned when the engine does not answer a call within
// the configured bound. The pending waiter is discarded, so a late
// response line is dropped rather than attributed to a later call.
var ErrTimeout = errors.New("engine: call timed out")

// ErrUnavailable is returned when the engine process is not running,
// including the window between an unexpected exit and its respawn.
var ErrUnavailable = errors.New("engine: process not running")

// ErrProtocol is returned when the engine emits a line that does not
// parse as a response. The raw payload is attached to the message.
var ErrProtocol = errors.New("engine: malformed response")

// ErrRejected is returned when the engine answers with success=false.
var ErrRejected = errors.New("engine: command rejected")
