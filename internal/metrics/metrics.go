package metrics

import (
	"time"

	"github.com/flowpbx/streamecho/internal/session"
	"github.com/prometheus/client_golang/prometheus"
)

// SessionStatsProvider exposes session controller counters.
type SessionStatsProvider interface {
	Stats() session.Stats
}

// Collector is a prometheus.Collector that reads controller stats at scrape time.
type Collector struct {
	sessions  SessionStatsProvider
	startTime time.Time

	// Metric descriptors.
	activeSessionsDesc   *prometheus.Desc
	sessionsStartedDesc  *prometheus.Desc
	sessionsRejectedDesc *prometheus.Desc
	sessionsEndedDesc    *prometheus.Desc
	framesReceivedDesc   *prometheus.Desc
	framesEchoedDesc     *prometheus.Desc
	framesDroppedDesc    *prometheus.Desc
	echoFailuresDesc     *prometheus.Desc
	redirectsDesc        *prometheus.Desc
	redirectFailuresDesc *prometheus.Desc
	uptimeDesc           *prometheus.Desc
}

// NewCollector creates a new metrics collector. sessions may be nil, in which
// case only uptime is reported.
func NewCollector(sessions SessionStatsProvider, startTime time.Time) *Collector {
	return &Collector{
		sessions:  sessions,
		startTime: startTime,

		activeSessionsDesc: prometheus.NewDesc(
			"streamecho_active_sessions",
			"Number of live listen stream sessions",
			nil, nil,
		),
		sessionsStartedDesc: prometheus.NewDesc(
			"streamecho_sessions_started_total",
			"Total stream sessions registered",
			nil, nil,
		),
		sessionsRejectedDesc: prometheus.NewDesc(
			"streamecho_sessions_rejected_total",
			"Total stream connections rejected as duplicates",
			nil, nil,
		),
		sessionsEndedDesc: prometheus.NewDesc(
			"streamecho_sessions_ended_total",
			"Total stream sessions torn down, by reason",
			[]string{"reason"}, nil,
		),
		framesReceivedDesc: prometheus.NewDesc(
			"streamecho_audio_frames_received_total",
			"Total binary audio frames received",
			nil, nil,
		),
		framesEchoedDesc: prometheus.NewDesc(
			"streamecho_audio_frames_echoed_total",
			"Total binary audio frames written back",
			nil, nil,
		),
		framesDroppedDesc: prometheus.NewDesc(
			"streamecho_audio_frames_dropped_total",
			"Total audio frames dropped for ended sessions",
			nil, nil,
		),
		echoFailuresDesc: prometheus.NewDesc(
			"streamecho_echo_failures_total",
			"Total audio echo writes that failed",
			nil, nil,
		),
		redirectsDesc: prometheus.NewDesc(
			"streamecho_redirects_sent_total",
			"Total redirect commands delivered",
			nil, nil,
		),
		redirectFailuresDesc: prometheus.NewDesc(
			"streamecho_redirect_failures_total",
			"Total redirect commands that could not be delivered",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"streamecho_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessionsDesc
	ch <- c.sessionsStartedDesc
	ch <- c.sessionsRejectedDesc
	ch <- c.sessionsEndedDesc
	ch <- c.framesReceivedDesc
	ch <- c.framesEchoedDesc
	ch <- c.framesDroppedDesc
	ch <- c.echoFailuresDesc
	ch <- c.redirectsDesc
	ch <- c.redirectFailuresDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.sessions != nil {
		st := c.sessions.Stats()

		ch <- prometheus.MustNewConstMetric(
			c.activeSessionsDesc, prometheus.GaugeValue,
			float64(st.ActiveSessions),
		)
		counters := []struct {
			desc *prometheus.Desc
			val  uint64
		}{
			{c.sessionsStartedDesc, st.SessionsStarted},
			{c.sessionsRejectedDesc, st.SessionsRejected},
			{c.framesReceivedDesc, st.FramesReceived},
			{c.framesEchoedDesc, st.FramesEchoed},
			{c.framesDroppedDesc, st.FramesDropped},
			{c.echoFailuresDesc, st.EchoFailures},
			{c.redirectsDesc, st.RedirectsSent},
			{c.redirectFailuresDesc, st.RedirectFailures},
		}
		for _, ctr := range counters {
			ch <- prometheus.MustNewConstMetric(ctr.desc, prometheus.CounterValue, float64(ctr.val))
		}

		// One series per reason so absent reasons still report zero.
		for _, reason := range session.AllReasons {
			ch <- prometheus.MustNewConstMetric(
				c.sessionsEndedDesc, prometheus.CounterValue,
				float64(st.SessionsEnded[reason]), string(reason),
			)
		}
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
