package model

// Report aggregates summary statistics for a set of probe outcomes.
// It is derived data: recomputed in full from the outcome set and never
// updated in place.
type Report struct {
	Total        int     `json:"total"`
	SuccessCount int     `json:"success_count"`
	FailureCount int     `json:"failure_count"`
	TimeoutCount int     `json:"timeout_count"`
	SuccessRate  float64 `json:"success_rate"` // success / total, 0 when total is 0

	// Latency statistics are computed over successful outcomes only and
	// are nil when there are none.
	AvgLatencyMs *float64 `json:"avg_latency_ms"`
	MinLatencyMs *int64   `json:"min_latency_ms"`
	MaxLatencyMs *int64   `json:"max_latency_ms"`

	// SortedOutcomes lists successes ascending by latency (submission order
	// breaks ties), followed by failures and timeouts in submission order.
	SortedOutcomes []ProbeOutcome `json:"-"`

	// Cancelled is set when the run was aborted before all descriptors
	// were probed. Counts above still reconcile over produced outcomes.
	Cancelled bool `json:"cancelled"`
}
