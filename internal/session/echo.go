package session

// OnFrame echoes frame for callID. Frames for a call with no live session are
// dropped. It reports whether the frame was accepted for echo.
func (c *Controller) OnFrame(callID string, frame []byte) bool {
	s := c.registry.Get(callID)
	if s == nil {
		c.framesDropped.Add(1)
		c.logger.Debug("frame dropped", "call_id", callID, "bytes", len(frame), "error", ErrSessionNotFound)
		return false
	}
	return c.echo(s, frame)
}

// echo counts frame and writes it back unmodified on the same connection.
// frame must not be modified by the caller afterwards. A failed write is
// logged and does not end the session.
func (c *Controller) echo(s *Session, frame []byte) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.framesDropped.Add(1)
		s.logger.Debug("frame dropped after teardown", "bytes", len(frame))
		return false
	}
	s.framesReceived++
	s.mu.Unlock()
	c.framesReceived.Add(1)

	if err := s.conn.SendBinary(frame, func(err error) {
		if err != nil {
			c.echoFailures.Add(1)
			s.logger.Warn("failed to echo audio frame", "error", err)
			return
		}
		c.framesEchoed.Add(1)
	}); err != nil {
		c.echoFailures.Add(1)
		s.logger.Warn("failed to queue audio frame", "error", err)
	}
	return true
}
