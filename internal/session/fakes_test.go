package session

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var errFakeClosed = errors.New("fake conn closed")

type sentFrame struct {
	binary bool
	data   []byte
}

// fakeConn implements Conn and records every frame it accepts.
type fakeConn struct {
	mu         sync.Mutex
	frames     []sentFrame
	closed     bool
	closeCalls int
	closeErr   error

	queueErr error // returned from Send
	writeErr error // passed to done
}

func (f *fakeConn) send(binary bool, data []byte, done func(error)) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errFakeClosed
	}
	if f.queueErr != nil {
		err := f.queueErr
		f.mu.Unlock()
		return err
	}
	cp := append([]byte(nil), data...)
	f.frames = append(f.frames, sentFrame{binary: binary, data: cp})
	writeErr := f.writeErr
	f.mu.Unlock()

	done(writeErr)
	return nil
}

func (f *fakeConn) SendText(data []byte, done func(error)) error {
	return f.send(false, data, done)
}

func (f *fakeConn) SendBinary(data []byte, done func(error)) error {
	return f.send(true, data, done)
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCalls++
	return f.closeErr
}

func (f *fakeConn) setQueueErr(err error) {
	f.mu.Lock()
	f.queueErr = err
	f.mu.Unlock()
}

func (f *fakeConn) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *fakeConn) sent() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.frames...)
}

func (f *fakeConn) textFrames() [][]byte {
	var out [][]byte
	for _, fr := range f.sent() {
		if !fr.binary {
			out = append(out, fr.data)
		}
	}
	return out
}

func (f *fakeConn) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

// fakeClock is a manually advanced clock for timer tests.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and runs every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T) (*Controller, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	c := NewController(NewRegistry(), Options{
		StreamBaseURL:  "ws://media.example.com/",
		PublicBaseURL:  "http://api.example.com",
		RedirectNumber: "15550001111",
	}, discardLogger())
	c.nowFunc = clock.Now
	c.afterFunc = clock.AfterFunc
	return c, clock
}

func mustConnect(t *testing.T, c *Controller, callID string) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s, err := c.OnConnectionEstablished(callID, conn)
	if err != nil {
		t.Fatalf("OnConnectionEstablished(%q): %v", callID, err)
	}
	return s, conn
}
