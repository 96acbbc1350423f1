package simulation

import (
	"sync"
	"time"
)

// Session aggregates all mutable state kept for one session identifier:
// the status snapshot, per-variant stats, and the capped log buffer.
// All access goes through methods holding the session mutex, so HTTP readers
// always see a consistent snapshot while the runner mutates in place.
type Session struct {
	ID string

	mu          sync.Mutex
	status      Status
	logs        *LogBuffer
	lastStatsAt time.Time
}

// NewSession creates an idle session with an empty log buffer.
func NewSession(id string, maxLogs int) *Session {
	return &Session{
		ID:   id,
		logs: NewLogBuffer(maxLogs),
	}
}

// Snapshot returns a copy of the current status.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Running reports whether the session is currently marked running.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Running
}

// Logs exposes the session's log buffer.
func (s *Session) Logs() *LogBuffer {
	return s.logs
}

// AppendLog stores a log line and returns the stored entry.
func (s *Session) AppendLog(message, userKey string) LogEntry {
	e := LogEntry{Timestamp: time.Now(), Message: message, UserKey: userKey}
	s.logs.Append(e)
	return e
}

// ResetForRun clears counters, stats, timestamps, and stored logs, then
// marks the session running. Called by the controller on start.
func (s *Session) ResetForRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Status{Running: true}
	s.lastStatsAt = time.Time{}
	s.logs.Reset()
}

// MarkStopped flips the session to stopped, stamping EndTime if the monitor
// has not already done so. It returns the run duration measured from
// FirstEventTime when that was ever stamped.
func (s *Session) MarkStopped() (elapsed time.Duration, hasElapsed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = false
	if s.status.EndTime == nil {
		now := time.Now()
		s.status.EndTime = &now
	}
	if s.status.FirstEventTime != nil {
		return s.status.EndTime.Sub(*s.status.FirstEventTime), true
	}
	return 0, false
}

// RecordError stores the most recent error string on the status.
func (s *Session) RecordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastError = msg
}

// ObserveRollout records the monitor's verdict. On an active→inactive
// transition while still running it stamps EndTime and reports true so the
// controller can auto-stop.
func (s *Session) ObserveRollout(active bool) (deactivated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.status.GuardedRolloutActive
	s.status.GuardedRolloutActive = active
	if was && !active && s.status.Running {
		if s.status.EndTime == nil {
			now := time.Now()
			s.status.EndTime = &now
		}
		return true
	}
	return false
}

// RecordEvaluation counts one flag evaluation for the variant, plus the
// in-experiment counter when the reason carried experiment membership.
func (s *Session) RecordEvaluation(treatment, inExperiment bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.status.Stats.Variant(treatment)
	v.Evaluations++
	if inExperiment {
		v.InExperiment++
	}
}

// MarkFirstEvent stamps FirstEventTime once and reports whether this call
// was the one that stamped it.
func (s *Session) MarkFirstEvent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.FirstEventTime != nil {
		return false
	}
	now := time.Now()
	s.status.FirstEventTime = &now
	return true
}

// ObserveErrorMetric records one error-metric opportunity and whether it fired.
func (s *Session) ObserveErrorMetric(treatment, fired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Stats.Variant(treatment).Error.ObserveHit(fired)
}

// ObserveBusinessMetric records one business-metric opportunity and whether it fired.
func (s *Session) ObserveBusinessMetric(treatment, fired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Stats.Variant(treatment).Business.ObserveHit(fired)
}

// ObserveLatencyMetric records one latency sample in milliseconds.
func (s *Session) ObserveLatencyMetric(treatment bool, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Stats.Variant(treatment).Latency.Observe(value)
}

// IncrementEventsSent bumps the total event counter and returns the new value.
func (s *Session) IncrementEventsSent() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.EventsSent++
	return s.status.EventsSent
}

// MaybeRecomputeStats refreshes the derived averages when interval has
// elapsed since the last refresh, reporting whether it ran.
func (s *Session) MaybeRecomputeStats(interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if !s.lastStatsAt.IsZero() && now.Sub(s.lastStatsAt) < interval {
		return false
	}
	s.status.Stats.Recompute()
	s.lastStatsAt = now
	return true
}

// Registry is the process-wide session store. Sessions are created lazily on
// first reference and live for the life of the process; the registry is
// injected into handlers and the controller rather than kept as a package
// global.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	maxLogs  int
}

// NewRegistry creates an empty registry whose sessions retain at most
// maxLogs log entries each.
func NewRegistry(maxLogs int) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		maxLogs:  maxLogs,
	}
}

// Get returns the session for id, creating it on first reference.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s = NewSession(id, r.maxLogs)
	r.sessions[id] = s
	return s
}

// All returns a snapshot of every known session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of known sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
