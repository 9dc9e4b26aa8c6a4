package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.JobQueued()
	m.JobRejected()
	m.JobStarted()
	m.JobDone()
	m.JobPanicked()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.Response(200)
	m.ParseError()
	m.AcceptRetry()
	m.Upgrade()
	m.Frame("in", "text")
	m.ProtocolViolation()
}

func TestPoolGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.JobQueued()
	m.JobQueued()
	m.JobStarted()

	if got := testutil.ToFloat64(m.jobsQueued); got != 1 {
		t.Errorf("expected 1 queued job, got %v", got)
	}
	if got := testutil.ToFloat64(m.workersBusy); got != 1 {
		t.Errorf("expected 1 busy worker, got %v", got)
	}

	m.JobDone()
	if got := testutil.ToFloat64(m.workersBusy); got != 0 {
		t.Errorf("expected 0 busy workers, got %v", got)
	}
}

func TestResponsesByCode(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Response(200)
	m.Response(200)
	m.Response(404)

	if got := testutil.ToFloat64(m.responses.WithLabelValues("200")); got != 2 {
		t.Errorf("expected 2 responses with code 200, got %v", got)
	}
	if got := testutil.ToFloat64(m.responses.WithLabelValues("404")); got != 1 {
		t.Errorf("expected 1 response with code 404, got %v", got)
	}
}
