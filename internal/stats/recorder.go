// Package stats aggregates spawn request statistics for the dashboard and
// the exit summary.
package stats

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// Recorder accumulates spawn latency observations and outcome counts.
// All methods are safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	startTime time.Time

	succeeded int64
	failed    int64

	min time.Duration
	max time.Duration
	sum time.Duration

	// ~100 centroids, ~10KB
	digest *tdigest.TDigest
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		startTime: time.Now(),
		digest:    tdigest.NewWithCompression(100),
	}
}

// RecordSuccess records one successful spawn and its latency.
func (r *Recorder) RecordSuccess(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.succeeded++
	r.sum += d
	if r.succeeded == 1 || d < r.min {
		r.min = d
	}
	if d > r.max {
		r.max = d
	}
	r.digest.Add(float64(d.Nanoseconds()), 1)
}

// RecordFailure records one failed spawn. Failed requests do not contribute
// to the latency distribution.
func (r *Recorder) RecordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
}

// Snapshot is a point-in-time view of the recorded statistics.
type Snapshot struct {
	Elapsed   time.Duration
	Succeeded int64
	Failed    int64

	Min  time.Duration
	Max  time.Duration
	Mean time.Duration

	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// Total returns the total number of spawn requests recorded.
func (s Snapshot) Total() int64 {
	return s.Succeeded + s.Failed
}

// SpawnsPerSecond returns the successful spawn rate over the whole run.
func (s Snapshot) SpawnsPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Succeeded) / s.Elapsed.Seconds()
}

// Snapshot returns the current statistics.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Elapsed:   time.Since(r.startTime),
		Succeeded: r.succeeded,
		Failed:    r.failed,
		Min:       r.min,
		Max:       r.max,
	}
	if r.succeeded > 0 {
		s.Mean = r.sum / time.Duration(r.succeeded)
		s.P50 = time.Duration(r.digest.Quantile(0.50))
		s.P95 = time.Duration(r.digest.Quantile(0.95))
		s.P99 = time.Duration(r.digest.Quantile(0.99))
	}
	return s
}

// StartTime returns when the recorder was created.
func (r *Recorder) StartTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startTime
}

// Reset discards all recorded observations.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.startTime = time.Now()
	r.succeeded = 0
	r.failed = 0
	r.min = 0
	r.max = 0
	r.sum = 0
	r.digest = tdigest.NewWithCompression(100)
}
