package mqtt

import "errors"

// ErrAckTimeout is returned when no acknowledgment is received before the timeout.
var ErrAckTimeout = errors.New("timeout waiting for ack")

// ErrUnknownCommand is returned when waiting on a command that was never sent
// or already resolved.
var ErrUnknownCommand = errors.New("unknown command")
