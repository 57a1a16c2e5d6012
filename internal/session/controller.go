// Package session drives the lifecycle of Jambonz listen streams: webhook
// directives, connection registration, audio echo, the delayed redirect and
// teardown.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flowpbx/streamecho/internal/jambonz"
	"github.com/google/uuid"
)

// Routes the platform is pointed at.
const (
	StreamPath = "/audio-stream"
	StatusPath = "/jambonz/status"
)

// Default controller settings.
const (
	DefaultRedirectDelay  = 5 * time.Second
	DefaultRedirectNumber = "1111962797073022"
)

// Options configures a Controller.
type Options struct {
	// StreamBaseURL is the ws:// or wss:// base the platform connects back to.
	StreamBaseURL string
	// PublicBaseURL is the http(s) base used for the status actionHook.
	PublicBaseURL string
	// SampleRate for both directions of the stream. Zero means 16000.
	SampleRate int
	// RedirectDelay before the redirect command is sent. Zero means 5s.
	RedirectDelay time.Duration
	// RedirectNumber is the fixed phone target of the redirect.
	RedirectNumber string
}

// Stats is a snapshot of controller counters.
type Stats struct {
	ActiveSessions   int
	SessionsStarted  uint64
	SessionsRejected uint64
	FramesReceived   uint64
	FramesEchoed     uint64
	FramesDropped    uint64
	EchoFailures     uint64
	RedirectsSent    uint64
	RedirectFailures uint64
	SessionsEnded    map[EndReason]uint64
}

// Controller owns a session registry and applies lifecycle rules to it.
type Controller struct {
	opts      Options
	registry  *Registry
	logger    *slog.Logger
	nowFunc   func() time.Time // injectable for testing
	afterFunc AfterFunc        // injectable for testing

	sessionsStarted  atomic.Uint64
	sessionsRejected atomic.Uint64
	framesReceived   atomic.Uint64
	framesEchoed     atomic.Uint64
	framesDropped    atomic.Uint64
	echoFailures     atomic.Uint64
	redirectsSent    atomic.Uint64
	redirectFailures atomic.Uint64
	ended            map[EndReason]*atomic.Uint64
}

// NewController creates a controller over registry.
func NewController(registry *Registry, opts Options, logger *slog.Logger) *Controller {
	if opts.SampleRate == 0 {
		opts.SampleRate = jambonz.DefaultSampleRate
	}
	if opts.RedirectDelay == 0 {
		opts.RedirectDelay = DefaultRedirectDelay
	}
	if opts.RedirectNumber == "" {
		opts.RedirectNumber = DefaultRedirectNumber
	}

	ended := make(map[EndReason]*atomic.Uint64, len(AllReasons))
	for _, r := range AllReasons {
		ended[r] = new(atomic.Uint64)
	}

	return &Controller{
		opts:      opts,
		registry:  registry,
		logger:    logger.With("subsystem", "sessions"),
		nowFunc:   time.Now,
		afterFunc: realAfterFunc,
		ended:     ended,
	}
}

// Registry returns the controller's session registry.
func (c *Controller) Registry() *Registry {
	return c.registry
}

// HandleWebhook resolves the call id and builds the listen directive for it.
// It does not register anything; the session is created when the platform
// connects back.
func (c *Controller) HandleWebhook(req jambonz.CallRequest) (string, jambonz.WebhookResponse) {
	callID := req.ID()
	if callID == "" {
		callID = fmt.Sprintf("call_%d", c.nowFunc().UnixMilli())
		c.logger.Warn("webhook without call id, synthesized one", "call_id", callID)
	}

	var resp jambonz.WebhookResponse
	resp.Listen(jambonz.Listen{
		URL:        c.StreamURL(callID),
		MixType:    jambonz.MixMono,
		ActionHook: joinURL(c.opts.PublicBaseURL, StatusPath),
		SampleRate: c.opts.SampleRate,
		BidirectionalAudio: &jambonz.BidirectionalAudio{
			Enabled:    true,
			Streaming:  true,
			SampleRate: c.opts.SampleRate,
		},
	})

	c.logger.Info("listen directive built",
		"call_id", callID,
		"from", req.From,
		"to", req.To,
		"direction", req.Direction,
	)
	return callID, resp
}

// StreamURL returns the WebSocket URL the platform should open for callID.
func (c *Controller) StreamURL(callID string) string {
	return joinURL(c.opts.StreamBaseURL, StreamPath) + "/" + url.PathEscape(callID)
}

// OnConnectionEstablished registers a session for conn, acknowledges it and
// arms the redirect timer. The returned session's Dispatch method must receive
// every subsequent event from conn. On ErrDuplicateSession the existing
// session is untouched and the caller owns (and should close) conn; the same
// holds for ErrShuttingDown.
func (c *Controller) OnConnectionEstablished(callID string, conn Conn) (*Session, error) {
	if callID == "" {
		return nil, ErrMissingCallID
	}

	connID := uuid.NewString()
	s := &Session{
		CallID:    callID,
		ConnID:    connID,
		CreatedAt: c.nowFunc(),
		conn:      conn,
		ctrl:      c,
		logger:    c.logger.With("call_id", callID, "conn_id", connID),
	}

	// Hold the session lock across registration so a racing teardown waits
	// until the timer is armed and can stop it.
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := c.registry.Add(s); err != nil {
		c.sessionsRejected.Add(1)
		c.logger.Warn("rejecting stream connection", "call_id", callID, "error", err)
		return nil, err
	}
	c.sessionsStarted.Add(1)

	ack, err := json.Marshal(jambonz.NewConnectionAck(callID))
	if err != nil {
		s.logger.Error("failed to encode connection ack", "error", err)
	} else if err := conn.SendText(ack, func(err error) {
		if err != nil {
			s.logger.Warn("failed to send connection ack", "error", err)
		}
	}); err != nil {
		s.logger.Warn("failed to queue connection ack", "error", err)
	}

	s.timer = c.scheduleRedirect(s)

	s.logger.Info("stream connected",
		"redirect_in", c.opts.RedirectDelay.String(),
		"active_sessions", c.registry.Count(),
	)
	return s, nil
}

// OnStatusCallback applies a listen status reported to the actionHook.
// finished and error tear the session down, started is logged, and any other
// value is logged as unknown. The acknowledgement is always an empty verb list.
func (c *Controller) OnStatusCallback(callID, status string) jambonz.WebhookResponse {
	logger := c.logger.With("call_id", callID, "status", status)

	switch status {
	case jambonz.StatusStarted:
		logger.Info("audio streaming started")
	case jambonz.StatusFinished:
		logger.Info("audio streaming finished")
		c.Teardown(callID, ReasonStatusFinished)
	case jambonz.StatusError:
		logger.Error("audio streaming error")
		c.Teardown(callID, ReasonStatusError)
	default:
		logger.Warn("ignoring status callback", "error", fmt.Errorf("%q: %w", status, ErrUnknownStatus))
	}
	return jambonz.WebhookResponse{}
}

// Teardown ends the session for callID: the redirect timer is stopped, the
// connection closed and the session removed. It reports whether a session was
// removed; calling it for an absent call id is a no-op.
func (c *Controller) Teardown(callID string, reason EndReason) bool {
	s := c.registry.Remove(callID)
	if s == nil {
		c.logger.Debug("teardown skipped",
			"call_id", callID,
			"reason", string(reason),
			"error", ErrSessionNotFound,
		)
		return false
	}
	c.finish(s, reason)
	return true
}

// endSession tears s down only if it is still the registered session for its
// call id.
func (c *Controller) endSession(s *Session, reason EndReason) {
	if !c.registry.RemoveIf(s.CallID, s) {
		s.logger.Debug("session already ended", "reason", string(reason))
		return
	}
	c.finish(s, reason)
}

// finish runs once per session, after it has been removed from the registry.
func (c *Controller) finish(s *Session, reason EndReason) {
	s.mu.Lock()
	s.closed = true
	timer := s.timer
	s.timer = nil
	frames := s.framesReceived
	redirected := s.redirectSent
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("failed to close stream connection", "error", err)
	}
	if ctr, ok := c.ended[reason]; ok {
		ctr.Add(1)
	}

	s.logger.Info("session ended",
		"reason", string(reason),
		"duration_ms", c.nowFunc().Sub(s.CreatedAt).Milliseconds(),
		"audio_frames", frames,
		"redirect_sent", redirected,
		"active_sessions", c.registry.Count(),
	)
}

// Shutdown tears down every live session. Connections that arrive afterwards
// are refused with ErrShuttingDown. Calling it again is a no-op.
func (c *Controller) Shutdown() {
	sessions := c.registry.Close()
	for _, s := range sessions {
		c.endSession(s, ReasonShutdown)
	}
	c.logger.Info("all sessions closed", "count", len(sessions))
}

// Count returns the number of live sessions.
func (c *Controller) Count() int {
	return c.registry.Count()
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats {
	ended := make(map[EndReason]uint64, len(c.ended))
	for r, ctr := range c.ended {
		ended[r] = ctr.Load()
	}
	return Stats{
		ActiveSessions:   c.registry.Count(),
		SessionsStarted:  c.sessionsStarted.Load(),
		SessionsRejected: c.sessionsRejected.Load(),
		FramesReceived:   c.framesReceived.Load(),
		FramesEchoed:     c.framesEchoed.Load(),
		FramesDropped:    c.framesDropped.Load(),
		EchoFailures:     c.echoFailures.Load(),
		RedirectsSent:    c.redirectsSent.Load(),
		RedirectFailures: c.redirectFailures.Load(),
		SessionsEnded:    ended,
	}
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
