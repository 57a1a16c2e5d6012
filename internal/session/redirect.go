package session

import (
	"encoding/json"

	"github.com/flowpbx/streamecho/internal/jambonz"
)

// scheduleRedirect arms the single redirect timer for s. Called once per
// session, with s.mu held.
func (c *Controller) scheduleRedirect(s *Session) Timer {
	return c.afterFunc(c.opts.RedirectDelay, func() {
		c.fireRedirect(s)
	})
}

// fireRedirect sends the redirect command if s is still live and has not been
// redirected. A session that ended before the delay elapsed is skipped.
func (c *Controller) fireRedirect(s *Session) {
	s.mu.Lock()
	live := !s.closed && c.registry.Get(s.CallID) == s
	already := s.redirectSent
	s.mu.Unlock()

	if !live {
		s.logger.Debug("redirect skipped, session ended")
		return
	}
	if already {
		return
	}

	payload, err := json.Marshal(jambonz.NewRedirect(c.opts.RedirectNumber))
	if err != nil {
		c.redirectFailures.Add(1)
		s.logger.Error("failed to encode redirect command", "error", err)
		return
	}

	s.logger.Info("sending redirect command", "target", c.opts.RedirectNumber)
	if err := s.conn.SendText(payload, func(err error) {
		c.redirectDone(s, err)
	}); err != nil {
		c.redirectFailures.Add(1)
		s.logger.Error("failed to queue redirect command", "error", err)
	}
}

// redirectDone records the write result. There is no retry.
func (c *Controller) redirectDone(s *Session, err error) {
	if err != nil {
		c.redirectFailures.Add(1)
		s.logger.Error("failed to send redirect command", "error", err)
		return
	}

	s.mu.Lock()
	s.redirectSent = true
	s.mu.Unlock()

	c.redirectsSent.Add(1)
	s.logger.Info("redirect command sent",
		"after_ms", c.nowFunc().Sub(s.CreatedAt).Milliseconds(),
	)
}
