// Package stats derives aggregate statistics from probe outcomes.
// Aggregation is a pure function of the outcome set, so it can be re-run
// at any point during a run for live progress figures.
package stats

import (
	"sort"
	"sync"

	"proxysweep/internal/model"
)

// Aggregate computes a Report over the given outcomes. It tolerates an
// empty set (all counts zero, latency fields nil) and is idempotent:
// calling it twice on the same outcomes yields identical reports.
func Aggregate(outcomes []model.ProbeOutcome) model.Report {
	r := model.Report{Total: len(outcomes)}

	var latencySum int64
	for _, o := range outcomes {
		switch o.Status {
		case model.StatusSuccess:
			r.SuccessCount++
			latencySum += o.LatencyMs
			if r.MinLatencyMs == nil || o.LatencyMs < *r.MinLatencyMs {
				v := o.LatencyMs
				r.MinLatencyMs = &v
			}
			if r.MaxLatencyMs == nil || o.LatencyMs > *r.MaxLatencyMs {
				v := o.LatencyMs
				r.MaxLatencyMs = &v
			}
		case model.StatusTimeout:
			r.TimeoutCount++
		default:
			r.FailureCount++
		}
	}

	if r.Total > 0 {
		r.SuccessRate = float64(r.SuccessCount) / float64(r.Total)
	}
	if r.SuccessCount > 0 {
		avg := float64(latencySum) / float64(r.SuccessCount)
		r.AvgLatencyMs = &avg
	}

	r.SortedOutcomes = SortOutcomes(outcomes)
	return r
}

// SortOutcomes returns a new slice with successes ordered ascending by
// latency (ties keep submission order), followed by failures and
// timeouts in submission order. The input is not modified.
func SortOutcomes(outcomes []model.ProbeOutcome) []model.ProbeOutcome {
	sorted := make([]model.ProbeOutcome, len(outcomes))
	copy(sorted, outcomes)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.OK() != b.OK() {
			return a.OK()
		}
		if a.OK() {
			if a.LatencyMs != b.LatencyMs {
				return a.LatencyMs < b.LatencyMs
			}
		}
		return a.Seq < b.Seq
	})
	return sorted
}

// Collector accumulates outcomes while the scheduler is still producing
// them. It is the only shared mutable state between the run and its
// consumers; outcomes themselves are immutable, so handing out copied
// snapshots is enough to keep aggregation race-free.
type Collector struct {
	mu        sync.Mutex
	outcomes  []model.ProbeOutcome
	cancelled bool
}

// NewCollector creates a Collector sized for the expected batch.
func NewCollector(capacity int) *Collector {
	return &Collector{outcomes: make([]model.ProbeOutcome, 0, capacity)}
}

// Add appends one finished outcome.
func (c *Collector) Add(o model.ProbeOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, o)
}

// Replace substitutes the outcome holding the same submission index,
// used when a higher-level retry produced a fresh outcome for a
// descriptor. Unknown indices are appended.
func (c *Collector) Replace(o model.ProbeOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.outcomes {
		if c.outcomes[i].Seq == o.Seq {
			c.outcomes[i] = o
			return
		}
	}
	c.outcomes = append(c.outcomes, o)
}

// MarkCancelled records that the run was aborted.
func (c *Collector) MarkCancelled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

// Len reports how many outcomes have been collected so far.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outcomes)
}

// Snapshot returns a copy of the outcomes collected so far plus the
// cancellation flag. Safe to call concurrently with Add.
func (c *Collector) Snapshot() ([]model.ProbeOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ProbeOutcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out, c.cancelled
}

// Report aggregates the current snapshot.
func (c *Collector) Report() model.Report {
	outcomes, cancelled := c.Snapshot()
	r := Aggregate(outcomes)
	r.Cancelled = cancelled
	return r
}
