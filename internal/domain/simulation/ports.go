package simulation

import (
	"context"
	"errors"
)

// ---------------------------------------------------------------------------
// Upstream Errors
// ---------------------------------------------------------------------------

var (
	// ErrFlagAPIUnavailable indicates the flag-management API could not be reached
	ErrFlagAPIUnavailable = errors.New("simulation: flag API temporarily unavailable")
	// ErrFlagAPIRequest indicates the flag-management API rejected a request
	ErrFlagAPIRequest = errors.New("simulation: flag API request failed")
	// ErrFlagAPIInvalidResponse indicates the flag-management API returned unparseable JSON
	ErrFlagAPIInvalidResponse = errors.New("simulation: invalid flag API response")
	// ErrEnvironmentNotFound indicates no environment of the project matches the SDK key
	ErrEnvironmentNotFound = errors.New("simulation: no environment matches the SDK key")
)

// ---------------------------------------------------------------------------
// Evaluation Ports
// ---------------------------------------------------------------------------

// EvaluationResult is the outcome of one flag evaluation.
type EvaluationResult struct {
	// Treatment is true when the flag served the treatment variation.
	Treatment bool
	// InExperiment is true when the evaluation was bucketed into the
	// guarded rollout's measured audience.
	InExperiment bool
}

// EvaluationClient evaluates flags and reports conversion events for
// generated contexts. One client is established per running session and
// closed when the session stops.
type EvaluationClient interface {
	// Evaluate resolves the flag for the given context and reports whether
	// the evaluation landed in the experiment audience
	Evaluate(flagKey string, evalCtx Context) (EvaluationResult, error)

	// TrackEvent records a binary conversion event for the context
	TrackEvent(eventKey string, evalCtx Context) error

	// TrackMetric records a numeric measurement for the context
	TrackMetric(eventKey string, evalCtx Context, value float64) error

	// Flush forces delivery of any buffered events
	Flush()

	// Close flushes and releases the client
	Close() error
}

// ClientFactory builds an EvaluationClient for a session's SDK key.
type ClientFactory interface {
	New(sdkKey string) (EvaluationClient, error)
}

// ---------------------------------------------------------------------------
// Flag-Management API Port
// ---------------------------------------------------------------------------

// FlagAPI reads flag configuration from the flag-management REST API.
type FlagAPI interface {
	// GuardedRolloutActive reports whether the session's flag currently has
	// a measured rollout in progress in the given environment
	GuardedRolloutActive(ctx context.Context, cfg Config, envKey string) (bool, error)

	// ResolveEnvironmentKey finds the environment whose SDK key matches the
	// session config. Returns ErrEnvironmentNotFound when no environment of
	// the project uses that key.
	ResolveEnvironmentKey(ctx context.Context, cfg Config) (string, error)
}

// ---------------------------------------------------------------------------
// Notification Port
// ---------------------------------------------------------------------------

// Notifier pushes session updates to connected subscribers. Implementations
// must not block; slow subscribers are skipped, not waited on.
type Notifier interface {
	NotifyStatus(sessionID string, status Status)
	NotifyLog(sessionID string, entry LogEntry)
}
