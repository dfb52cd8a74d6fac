package session

import (
	"github.com/juju/errors"
)

const (
	// ErrBusy is returned by Call when another call is still awaiting its response.
	ErrBusy = errors.ConstError("call already pending")

	// ErrTimeout is returned by Call when no response arrived within the call timeout.
	ErrTimeout = errors.ConstError("call timed out")

	// ErrCancelled is delivered to a pending call when the session closes or
	// the caller's context ends.
	ErrCancelled = errors.ConstError("call cancelled")

	// ErrConnectionClosed is returned once the transport is gone.
	ErrConnectionClosed = errors.ConstError("connection closed")
)
