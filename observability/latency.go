package observability

import (
	"math"
	"sort"
	"time"
)

// LatencyStats describes a latency distribution. Percentiles use the
// nearest-rank method over the retained samples.
type LatencyStats struct {
	Count int           `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// series keeps exact count/min/max/sum plus a ring of recent samples.
type series struct {
	count   int
	min     time.Duration
	max     time.Duration
	sum     time.Duration
	samples []time.Duration
	next    int
	limit   int
}

func newSeries(limit int) *series {
	if limit <= 0 {
		limit = 2048
	}
	return &series{limit: limit}
}

func (s *series) add(d time.Duration) {
	if s.count == 0 || d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
	s.count++
	s.sum += d

	if len(s.samples) < s.limit {
		s.samples = append(s.samples, d)
		return
	}
	s.samples[s.next] = d
	s.next = (s.next + 1) % s.limit
}

func (s *series) stats() LatencyStats {
	if s.count == 0 {
		return LatencyStats{}
	}

	sorted := make([]time.Duration, len(s.samples))
	copy(sorted, s.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencyStats{
		Count: s.count,
		Min:   s.min,
		Max:   s.max,
		Mean:  s.sum / time.Duration(s.count),
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
