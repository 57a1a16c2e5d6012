package session

import "errors"

var (
	// ErrDuplicateSession is returned when a connection arrives for a call id
	// that already has a live session. The existing session is left untouched.
	ErrDuplicateSession = errors.New("session already exists")

	// ErrSessionNotFound marks an event for a call id with no live session.
	// It is an expected race outcome and only logged at debug level.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnknownStatus is reported for status callback values other than
	// started, finished and error.
	ErrUnknownStatus = errors.New("unknown listen status")

	// ErrShuttingDown is returned for connections that arrive after Shutdown.
	ErrShuttingDown = errors.New("controller shutting down")

	// ErrMissingCallID is returned when a connection cannot be bound to a call.
	ErrMissingCallID = errors.New("missing call id")
)
