package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestCounters(t *testing.T) {
	m := New()
	m.LineRead("web-1")
	m.LineRead("web-1")
	m.Matched("web-1", "ERROR")
	m.Notified("failed")
	m.Polled("error")
	m.TailerStarted()
	m.TailerStarted()
	m.TailerStopped()

	body := scrape(t, m)
	require.Contains(t, body, `logwatch_lines_total{container="web-1"} 2`)
	require.Contains(t, body, `logwatch_matches_total{container="web-1",rule="ERROR"} 1`)
	require.Contains(t, body, `logwatch_notifications_total{status="failed"} 1`)
	require.Contains(t, body, `logwatch_update_polls_total{result="error"} 1`)
	require.Contains(t, body, "logwatch_tailers_running 1")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.LineRead("x")
	m.Matched("x", "y")
	m.Notified("sent")
	m.Polled("ok")
	m.TailerStarted()
	m.TailerStopped()
}
