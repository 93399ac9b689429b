package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollectorWithRegistry(CollectorConfig{
		Version:     "test",
		Interpreter: "ruby",
		Helper:      "/opt/spawn-server",
	}, prometheus.NewRegistry())
}

func TestCollector_SpawnCounts(t *testing.T) {
	c := newTestCollector(t)

	c.SpawnSucceeded(10 * time.Millisecond)
	c.SpawnSucceeded(20 * time.Millisecond)
	c.SpawnFailed(ReasonTransport)

	if got := c.TotalSpawns(); got != 3 {
		t.Errorf("TotalSpawns() = %d, want 3", got)
	}
	if got := c.TotalFailures(); got != 1 {
		t.Errorf("TotalFailures() = %d, want 1", got)
	}
}

func TestCollector_HelperRestarts(t *testing.T) {
	c := newTestCollector(t)

	// The first start is not a restart.
	c.HelperStarted(100)
	if got := c.HelperRestarts(); got != 0 {
		t.Errorf("HelperRestarts() after first start = %d, want 0", got)
	}

	c.HelperExited(100)
	c.HelperStarted(101)
	c.HelperStarted(102)

	if got := c.HelperRestarts(); got != 2 {
		t.Errorf("HelperRestarts() = %d, want 2", got)
	}
}

func TestCollector_GenerateSummary(t *testing.T) {
	c := newTestCollector(t)

	c.HelperStarted(100)
	c.SpawnSucceeded(5 * time.Millisecond)
	c.SpawnFailed(ReasonHelperExited)
	c.HelperStarted(101)
	c.SpawnFailed(ReasonRestart)

	s := c.GenerateSummary()

	if s.TotalSpawns != 3 {
		t.Errorf("Summary.TotalSpawns = %d, want 3", s.TotalSpawns)
	}
	if s.TotalFailures != 2 {
		t.Errorf("Summary.TotalFailures = %d, want 2", s.TotalFailures)
	}
	if s.HelperStarts != 2 {
		t.Errorf("Summary.HelperStarts = %d, want 2", s.HelperStarts)
	}
	if s.HelperRestarts != 1 {
		t.Errorf("Summary.HelperRestarts = %d, want 1", s.HelperRestarts)
	}
	if s.FailureCounts[ReasonHelperExited] != 1 {
		t.Errorf("FailureCounts[helper_exited] = %d, want 1", s.FailureCounts[ReasonHelperExited])
	}
	if s.FailureCounts[ReasonRestart] != 1 {
		t.Errorf("FailureCounts[restart] = %d, want 1", s.FailureCounts[ReasonRestart])
	}
	if s.Duration <= 0 {
		t.Errorf("Summary.Duration = %v, want > 0", s.Duration)
	}
}

func TestCollector_SummaryIsACopy(t *testing.T) {
	c := newTestCollector(t)

	c.SpawnFailed(ReasonTransport)
	s := c.GenerateSummary()
	s.FailureCounts[ReasonTransport] = 999

	if got := c.GenerateSummary().FailureCounts[ReasonTransport]; got != 1 {
		t.Errorf("FailureCounts[transport] = %d after mutating summary, want 1", got)
	}
}

func TestCollector_SetLatencyPercentiles(t *testing.T) {
	c := newTestCollector(t)

	// Should not panic; the values are verified end to end in server_test.go.
	c.SetLatencyPercentiles(time.Millisecond, 5*time.Millisecond, 9*time.Millisecond)
	c.SetHelperState(2)
}
