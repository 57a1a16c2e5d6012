package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/flowpbx/streamecho/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockStats struct {
	stats session.Stats
}

func (m *mockStats) Stats() session.Stats {
	return m.stats
}

func TestCollectorReportsSessionStats(t *testing.T) {
	provider := &mockStats{stats: session.Stats{
		ActiveSessions:  2,
		SessionsStarted: 5,
		FramesEchoed:    120,
		RedirectsSent:   3,
		SessionsEnded: map[session.EndReason]uint64{
			session.ReasonStatusFinished: 2,
			session.ReasonSocketClosed:   1,
		},
	}}

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewCollector(provider, time.Now())); err != nil {
		t.Fatalf("register: %v", err)
	}

	expected := `
# HELP streamecho_active_sessions Number of live listen stream sessions
# TYPE streamecho_active_sessions gauge
streamecho_active_sessions 2
# HELP streamecho_redirects_sent_total Total redirect commands delivered
# TYPE streamecho_redirects_sent_total counter
streamecho_redirects_sent_total 3
# HELP streamecho_sessions_ended_total Total stream sessions torn down, by reason
# TYPE streamecho_sessions_ended_total counter
streamecho_sessions_ended_total{reason="shutdown"} 0
streamecho_sessions_ended_total{reason="socket_closed"} 1
streamecho_sessions_ended_total{reason="socket_error"} 0
streamecho_sessions_ended_total{reason="status_error"} 0
streamecho_sessions_ended_total{reason="status_finished"} 2
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"streamecho_active_sessions",
		"streamecho_redirects_sent_total",
		"streamecho_sessions_ended_total",
	)
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestCollectorNilProvider(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(nil, time.Now().Add(-time.Minute))); err != nil {
		t.Fatalf("register: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 1 || families[0].GetName() != "streamecho_uptime_seconds" {
		t.Fatalf("expected only uptime, got %d families", len(families))
	}
	if v := families[0].GetMetric()[0].GetGauge().GetValue(); v < 60 {
		t.Errorf("uptime = %v, want >= 60", v)
	}
}
