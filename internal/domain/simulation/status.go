package simulation

import "time"

// Variant names follow the experimentation convention: treatment is the
// flag's true side, control the false side.
const (
	VariantControl   = "control"
	VariantTreatment = "treatment"
)

// MetricAggregate accumulates one metric category for one variant.
// Count and Sum are updated on every observation; Avg is refreshed lazily by
// Stats.Recompute and may lag by up to the recompute interval.
type MetricAggregate struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
}

// Observe records one sample.
func (m *MetricAggregate) Observe(v float64) {
	m.Count++
	m.Sum += v
}

// ObserveHit records one binary opportunity; fired contributes 1 to the sum
// so Avg becomes the hit rate.
func (m *MetricAggregate) ObserveHit(fired bool) {
	if fired {
		m.Observe(1)
	} else {
		m.Observe(0)
	}
}

func (m *MetricAggregate) recompute() {
	if m.Count == 0 {
		m.Avg = 0
		return
	}
	m.Avg = m.Sum / float64(m.Count)
}

// VariantStats groups the three metric categories plus evaluation counters
// for one variant.
type VariantStats struct {
	Evaluations  int64           `json:"evaluations"`
	InExperiment int64           `json:"in_experiment"`
	Error        MetricAggregate `json:"error"`
	Business     MetricAggregate `json:"business"`
	Latency      MetricAggregate `json:"latency"`
}

// Stats holds the per-variant aggregates of one session.
type Stats struct {
	Control   VariantStats `json:"control"`
	Treatment VariantStats `json:"treatment"`
}

// Variant returns the stats bucket for the given variant.
func (s *Stats) Variant(treatment bool) *VariantStats {
	if treatment {
		return &s.Treatment
	}
	return &s.Control
}

// Recompute refreshes every derived average from the raw totals.
func (s *Stats) Recompute() {
	for _, v := range []*VariantStats{&s.Control, &s.Treatment} {
		v.Error.recompute()
		v.Business.recompute()
		v.Latency.recompute()
	}
}

// Status is the user-visible snapshot of one session's simulation.
type Status struct {
	Running              bool       `json:"running"`
	EventsSent           int64      `json:"events_sent"`
	LastError            string     `json:"last_error,omitempty"`
	GuardedRolloutActive bool       `json:"guarded_rollout_active"`
	FirstEventTime       *time.Time `json:"first_event_time,omitempty"`
	EndTime              *time.Time `json:"end_time,omitempty"`
	Stats                Stats      `json:"stats"`
}
