package session

import "time"

// Conn is the transport handle owned by a session.
//
// Send methods must not block. They return an error when the frame could not
// be queued; otherwise done is invoked exactly once with the write result.
// done may run on any goroutine, including before Send returns.
type Conn interface {
	SendText(data []byte, done func(error)) error
	SendBinary(data []byte, done func(error)) error
	Close() error
}

// Timer is a cancellable one-shot timer. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
