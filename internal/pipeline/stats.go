package pipeline

import (
	"slices"
	"sync"
	"time"
)

type sample struct {
	at       time.Time
	duration time.Duration
}

// LatencySnapshot aggregates stage latencies in microseconds, plus outcome
// counts, over the rolling window.
type LatencySnapshot struct {
	Count   int     `json:"count"`
	Tagged  int     `json:"tagged"`
	Skipped int     `json:"skipped"`
	MinUs   int64   `json:"min_us"`
	MaxUs   int64   `json:"max_us"`
	AvgUs   float64 `json:"avg_us"`
	P50Us   float64 `json:"p50_us"`
	P95Us   float64 `json:"p95_us"`
	P99Us   float64 `json:"p99_us"`
}

// LatencyStats keeps recent per-event processing times within a window.
type LatencyStats struct {
	mu      sync.Mutex
	samples []sample
	tagged  []time.Time
	skipped []time.Time
	maxAge  time.Duration
}

func NewLatencyStats(maxAge time.Duration) *LatencyStats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &LatencyStats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
	}
}

// Record adds one processing time.
func (s *LatencyStats) Record(d time.Duration) {
	if d < 0 {
		d = 0
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	s.samples = append(s.samples, sample{at: now, duration: d})
}

// RecordTagged counts an event that received the failure tag.
func (s *LatencyStats) RecordTagged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tagged = append(s.tagged, time.Now())
}

// RecordSkipped counts an event the stage had nothing to do for.
func (s *LatencyStats) RecordSkipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped = append(s.skipped, time.Now())
}

func (s *LatencyStats) Snapshot() LatencySnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	snap := LatencySnapshot{Tagged: len(s.tagged), Skipped: len(s.skipped)}
	if len(s.samples) == 0 {
		return snap
	}

	values := make([]int64, 0, len(s.samples))
	var sum int64
	for _, sm := range s.samples {
		us := sm.duration.Microseconds()
		values = append(values, us)
		sum += us
	}
	slices.Sort(values)

	snap.Count = len(values)
	snap.MinUs = values[0]
	snap.MaxUs = values[len(values)-1]
	snap.AvgUs = float64(sum) / float64(len(values))
	snap.P50Us = percentile(values, 50)
	snap.P95Us = percentile(values, 95)
	snap.P99Us = percentile(values, 99)
	return snap
}

func (s *LatencyStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	s.samples = slices.DeleteFunc(s.samples, func(sm sample) bool {
		return sm.at.Before(cutoff)
	})
	s.tagged = pruneTimes(s.tagged, cutoff)
	s.skipped = pruneTimes(s.skipped, cutoff)
}

func pruneTimes(ts []time.Time, cutoff time.Time) []time.Time {
	return slices.DeleteFunc(ts, func(t time.Time) bool { return t.Before(cutoff) })
}

// percentile interpolates linearly between the closest ranks.
func percentile(sorted []int64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sorted[0])
	}
	if pct >= 100 {
		return float64(sorted[len(sorted)-1])
	}

	index := (float64(len(sorted)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return float64(sorted[lower])
	}
	weight := index - float64(lower)
	lo := float64(sorted[lower])
	hi := float64(sorted[upper])
	return lo + ((hi - lo) * weight)
}
