// Package simulation orchestrates session lifecycles: starting and stopping
// runs, owning the per-session loop goroutines, and fanning session state out
// to subscribers.
package simulation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/releaseguard/backend/internal/domain/simulation"
	"github.com/releaseguard/backend/internal/infrastructure/metrics"
)

// Session lifecycle messages shared with the UI.
const (
	msgAlreadyRunning = "Simulation already running"
	msgNotRunning     = "No simulation running"
	msgStarted        = "Simulation started"
	msgStopped        = "Simulation stopped"
)

// Options tunes the per-session loop.
type Options struct {
	// BatchSize is the number of emission iterations per active rollout check.
	// Default: 100
	BatchSize int

	// WaitInterval is the pause between rollout checks while inactive.
	// Default: 5s
	WaitInterval time.Duration

	// StatsInterval bounds how often derived stats are recomputed.
	// Default: 5s
	StatsInterval time.Duration

	// StatusPushStride pushes status to subscribers every Nth event.
	// Default: 10
	StatusPushStride int

	// DefaultEnvironment is used when the SDK key matches no environment.
	// Default: "production"
	DefaultEnvironment string

	// RequestTimeout is the deadline applied to flag API calls.
	// Default: 10s
	RequestTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 5 * time.Second
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = 5 * time.Second
	}
	if o.StatusPushStride <= 0 {
		o.StatusPushStride = 10
	}
	if o.DefaultEnvironment == "" {
		o.DefaultEnvironment = "production"
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
}

// run tracks one session's live loop goroutine.
type run struct {
	stopCh chan struct{}
	done   chan struct{}
	client simulation.EvaluationClient
}

// Service is the simulation controller. Each session is either Stopped or
// Running; Running sessions own exactly one loop goroutine tracked in runs.
type Service struct {
	registry *simulation.Registry
	factory  simulation.ClientFactory
	flagAPI  simulation.FlagAPI
	notifier simulation.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	opts     Options

	mu   sync.Mutex
	runs map[string]*run
}

// NewService creates the controller.
func NewService(
	registry *simulation.Registry,
	factory simulation.ClientFactory,
	flagAPI simulation.FlagAPI,
	notifier simulation.Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts Options,
) *Service {
	opts.applyDefaults()
	return &Service{
		registry: registry,
		factory:  factory,
		flagAPI:  flagAPI,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		opts:     opts,
		runs:     make(map[string]*run),
	}
}

// CreateSession materializes a new session and returns its identifier.
func (s *Service) CreateSession() string {
	id := uuid.NewString()
	s.registry.Get(id)
	s.logger.Info("Session created", zap.String("session_id", id))
	return id
}

// Start brings a session from Stopped to Running: resolves the environment
// key, establishes the evaluation client, resets session state, and spawns
// the loop goroutine. Starting a running session is a logged no-op.
func (s *Service) Start(sessionID string, cfg simulation.Config) simulation.Status {
	sess := s.registry.Get(sessionID)

	s.mu.Lock()
	if _, ok := s.runs[sessionID]; ok {
		s.mu.Unlock()
		s.pushLog(sessionID, sess, msgAlreadyRunning, "")
		s.logger.Info("Start requested while already running", zap.String("session_id", sessionID))
		return sess.Snapshot()
	}
	r := &run{stopCh: make(chan struct{}), done: make(chan struct{})}
	s.runs[sessionID] = r
	s.mu.Unlock()

	cfg.ApplyDefaults()
	envKey := s.resolveEnvironment(sessionID, sess, cfg)

	client, err := s.factory.New(cfg.SDKKey)
	if err != nil {
		msg := fmt.Sprintf("Error initializing LaunchDarkly client: %v", err)
		sess.RecordError(msg)
		s.pushLog(sessionID, sess, msg, "")
		s.logger.Error("Evaluation client init failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		s.removeRun(sessionID, r)
		return sess.Snapshot()
	}
	r.client = client

	sess.ResetForRun()
	s.pushLog(sessionID, sess, "LaunchDarkly client initialized", "")
	s.pushLog(sessionID, sess, fmt.Sprintf("Metric toggles: latency=%t error=%t business=%t",
		cfg.LatencyEnabled(), cfg.ErrorEnabled(), cfg.BusinessEnabled()), "")
	s.pushLog(sessionID, sess, fmt.Sprintf("Using environment %q", envKey), "")

	s.metrics.SessionStarted()
	s.logger.Info("Simulation starting",
		zap.String("session_id", sessionID),
		zap.String("flag_key", cfg.FlagKey),
		zap.String("environment", envKey),
		zap.Float64("evaluations_per_second", cfg.EvaluationsPerSecond))

	select {
	case <-r.stopCh:
		// stop arrived while the client was being established
		s.removeRun(sessionID, r)
		sess.MarkStopped()
		_ = client.Close()
		return sess.Snapshot()
	default:
	}

	go newRunner(s, sessionID, sess, cfg, envKey, r).loop()

	s.notifier.NotifyStatus(sessionID, sess.Snapshot())
	s.pushLog(sessionID, sess, msgStarted, "")
	return sess.Snapshot()
}

// Stop brings a session from Running to Stopped, signalling the loop
// goroutine to release the evaluation client. Stopping a stopped session is
// a logged no-op.
func (s *Service) Stop(sessionID string) simulation.Status {
	sess := s.registry.Get(sessionID)

	s.mu.Lock()
	r, ok := s.runs[sessionID]
	if !ok {
		s.mu.Unlock()
		s.pushLog(sessionID, sess, msgNotRunning, "")
		s.logger.Info("Stop requested with no running simulation", zap.String("session_id", sessionID))
		return sess.Snapshot()
	}
	delete(s.runs, sessionID)
	s.mu.Unlock()

	close(r.stopCh)
	s.completeStop(sessionID, sess)
	return sess.Snapshot()
}

// StopAll stops every running session and waits for their loops to release
// their clients, bounded by ctx. Called on server shutdown.
func (s *Service) StopAll(ctx context.Context) {
	s.mu.Lock()
	running := make(map[string]*run, len(s.runs))
	for id, r := range s.runs {
		running[id] = r
	}
	s.mu.Unlock()

	for id := range running {
		s.Stop(id)
	}

	for id, r := range running {
		select {
		case <-r.done:
		case <-ctx.Done():
			s.logger.Warn("Timed out waiting for session loop to exit", zap.String("session_id", id))
			return
		}
	}
}

// Status returns the session's current status snapshot.
func (s *Service) Status(sessionID string) simulation.Status {
	return s.registry.Get(sessionID).Snapshot()
}

// Logs returns one page of the session's buffered log entries.
func (s *Service) Logs(sessionID string, limit, skip int) (entries []simulation.LogEntry, total int64, hasMore bool) {
	return s.registry.Get(sessionID).Logs().Page(limit, skip)
}

// Session returns the session aggregate for id, creating it on first use.
func (s *Service) Session(sessionID string) *simulation.Session {
	return s.registry.Get(sessionID)
}

// resolveEnvironment looks up the environment matching the config's SDK key,
// falling back to the configured default when the lookup fails.
func (s *Service) resolveEnvironment(sessionID string, sess *simulation.Session, cfg simulation.Config) string {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	defer cancel()

	envKey, err := s.flagAPI.ResolveEnvironmentKey(ctx, cfg)
	if err != nil {
		s.logger.Warn("Environment resolution failed, using default",
			zap.String("session_id", sessionID),
			zap.String("default", s.opts.DefaultEnvironment),
			zap.Error(err))
		s.pushLog(sessionID, sess, fmt.Sprintf("Could not resolve environment for SDK key, using %q", s.opts.DefaultEnvironment), "")
		return s.opts.DefaultEnvironment
	}
	return envKey
}

// completeStop performs the Stopped-side bookkeeping shared by explicit stop
// and auto-stop: stamps the end, reports elapsed time, and notifies.
func (s *Service) completeStop(sessionID string, sess *simulation.Session) {
	elapsed, hasElapsed := sess.MarkStopped()
	s.metrics.SessionStopped()

	s.pushLog(sessionID, sess, msgStopped, "")
	if hasElapsed {
		s.pushLog(sessionID, sess, fmt.Sprintf("Experiment ran for %s", elapsed.Round(time.Second)), "")
	}
	s.notifier.NotifyStatus(sessionID, sess.Snapshot())
	s.logger.Info("Simulation stopped",
		zap.String("session_id", sessionID),
		zap.Int64("events_sent", sess.Snapshot().EventsSent))
}

// removeRun clears the session's run entry if it still points at r,
// reporting whether this call was the one that removed it.
func (s *Service) removeRun(sessionID string, r *run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.runs[sessionID]; ok && cur == r {
		delete(s.runs, sessionID)
		return true
	}
	return false
}

// pushLog appends to the session buffer and forwards to subscribers.
func (s *Service) pushLog(sessionID string, sess *simulation.Session, message, userKey string) {
	entry := sess.AppendLog(message, userKey)
	s.notifier.NotifyLog(sessionID, entry)
}
