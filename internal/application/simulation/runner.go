package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/releaseguard/backend/internal/domain/simulation"
	"github.com/releaseguard/backend/internal/infrastructure/metrics"
)

// runner drives the combined monitor + emission loop for one running
// session. It exclusively owns the session's evaluation client and releases
// it on exit, whatever the exit path.
type runner struct {
	svc       *Service
	sessionID string
	sess      *simulation.Session
	cfg       simulation.Config
	envKey    string
	run       *run

	gen     *simulation.Generator
	limiter *rate.Limiter
}

func newRunner(svc *Service, sessionID string, sess *simulation.Session, cfg simulation.Config, envKey string, rn *run) *runner {
	return &runner{
		svc:       svc,
		sessionID: sessionID,
		sess:      sess,
		cfg:       cfg,
		envKey:    envKey,
		run:       rn,
		gen:       simulation.NewGenerator(),
		limiter:   rate.NewLimiter(rate.Limit(cfg.EvaluationsPerSecond), 1),
	}
}

// loop alternates rollout checks with emission batches until stopped.
func (r *runner) loop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-r.run.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		r.run.client.Flush()
		if err := r.run.client.Close(); err != nil {
			r.svc.logger.Warn("Error closing evaluation client",
				zap.String("session_id", r.sessionID),
				zap.Error(err))
		}
		close(r.run.done)
	}()

	for {
		if r.stopped() {
			return
		}

		active := r.checkRollout(ctx)

		if r.stopped() {
			return
		}

		if r.sess.ObserveRollout(active) {
			// the rollout completed while we were still sending
			if r.svc.removeRun(r.sessionID, r.run) {
				r.notifyLog("Guarded rollout completed, stopping simulation", "")
				r.svc.completeStop(r.sessionID, r.sess)
			}
			return
		}

		if active {
			if !r.sendBatch(ctx) {
				return
			}
		} else {
			r.notifyLog("Waiting for guarded rollout to become active...", "")
			r.svc.notifier.NotifyStatus(r.sessionID, r.sess.Snapshot())
			if !r.pause(r.svc.opts.WaitInterval) {
				return
			}
		}
	}
}

func (r *runner) stopped() bool {
	select {
	case <-r.run.stopCh:
		return true
	default:
		return false
	}
}

// checkRollout asks the flag API whether the guarded rollout is active.
// Every failure is recorded and read as inactive so that an unreachable API
// never drives traffic.
func (r *runner) checkRollout(ctx context.Context) bool {
	r.notifyLog(fmt.Sprintf("Checking if guarded rollout is active for %s", r.cfg.FlagKey), "")

	reqCtx, cancel := context.WithTimeout(ctx, r.svc.opts.RequestTimeout)
	defer cancel()

	active, err := r.svc.flagAPI.GuardedRolloutActive(reqCtx, r.cfg, r.envKey)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// stop raced the probe; the loop exits on the next check
			return false
		}
		msg := fmt.Sprintf("API request error: %v", err)
		r.sess.RecordError(msg)
		r.notifyLog(msg, "")
		r.svc.metrics.RecordRolloutCheck(metrics.RolloutCheckError)
		return false
	}

	if active {
		r.notifyLog("Guarded Rollout is active", "")
		r.svc.metrics.RecordRolloutCheck(metrics.RolloutCheckActive)
	} else {
		r.notifyLog("Guarded Rollout is not active", "")
		r.svc.metrics.RecordRolloutCheck(metrics.RolloutCheckInactive)
	}
	return active
}

// sendBatch runs up to BatchSize emission iterations, returning false when
// the run was stopped mid-batch.
func (r *runner) sendBatch(ctx context.Context) bool {
	for i := 0; i < r.svc.opts.BatchSize; i++ {
		if r.stopped() {
			return false
		}

		r.sendOne()

		if err := r.limiter.Wait(ctx); err != nil {
			return false
		}
	}

	r.svc.notifier.NotifyStatus(r.sessionID, r.sess.Snapshot())
	return true
}

// sendOne performs a single emission iteration: evaluate, count, and emit
// the configured metric events for experiment members. Iteration errors are
// recorded and the loop moves on.
func (r *runner) sendOne() {
	evalCtx := r.gen.Generate()
	userKey := evalCtx.User.Key

	result, err := r.run.client.Evaluate(r.cfg.FlagKey, evalCtx)
	if err != nil {
		// evaluation falls back to control, still counted below
		msg := fmt.Sprintf("Error during event sending: %v", err)
		r.sess.RecordError(msg)
		r.notifyLog(msg, userKey)
	}

	variant := variantName(result.Treatment)
	r.sess.RecordEvaluation(result.Treatment, result.InExperiment)
	r.svc.metrics.RecordEvaluation(variant, result.InExperiment)

	if result.InExperiment {
		r.notifyLog(fmt.Sprintf("Executing %s", variant), userKey)
		if r.sess.MarkFirstEvent() {
			r.svc.logger.Info("First experiment event recorded",
				zap.String("session_id", r.sessionID),
				zap.String("variant", variant))
		}
		r.emitMetrics(evalCtx, result.Treatment, userKey)
	} else {
		r.notifyLog(fmt.Sprintf("Executing %s (not in experiment)", variant), userKey)
	}

	r.run.client.Flush()

	events := r.sess.IncrementEventsSent()
	recomputed := r.sess.MaybeRecomputeStats(r.svc.opts.StatsInterval)
	if recomputed || events%int64(r.svc.opts.StatusPushStride) == 0 {
		r.svc.notifier.NotifyStatus(r.sessionID, r.sess.Snapshot())
	}
}

// emitMetrics decides and delivers the error, business, and latency events
// for one experiment-member iteration.
func (r *runner) emitMetrics(evalCtx simulation.Context, treatment bool, userKey string) {
	variant := variantName(treatment)

	if r.cfg.ErrorEnabled() {
		fired := r.gen.Chance(r.cfg.ErrorConverted(treatment))
		r.sess.ObserveErrorMetric(treatment, fired)
		if fired {
			r.track(metrics.EventKindError, r.cfg.ErrorMetric, evalCtx, variant, userKey)
		} else {
			r.svc.logger.Debug("Error metric did not fire",
				zap.String("session_id", r.sessionID),
				zap.String("variant", variant))
		}
	} else {
		r.notifyLog(fmt.Sprintf("Skipping %s tracking (disabled)", r.cfg.ErrorMetric), userKey)
	}

	if r.cfg.BusinessEnabled() {
		fired := r.gen.Chance(r.cfg.BusinessConverted(treatment))
		r.sess.ObserveBusinessMetric(treatment, fired)
		if fired {
			r.track(metrics.EventKindBusiness, r.cfg.BusinessMetric, evalCtx, variant, userKey)
		} else {
			r.svc.logger.Debug("Business metric did not fire",
				zap.String("session_id", r.sessionID),
				zap.String("variant", variant))
		}
	} else {
		r.notifyLog(fmt.Sprintf("Skipping %s tracking (disabled)", r.cfg.BusinessMetric), userKey)
	}

	if r.cfg.LatencyEnabled() {
		lo, hi := r.cfg.LatencyRange(treatment)
		value := float64(r.gen.IntBetween(lo, hi))
		r.sess.ObserveLatencyMetric(treatment, value)
		if err := r.run.client.TrackMetric(r.cfg.LatencyMetric, evalCtx, value); err != nil {
			r.trackFailed(err, userKey)
		} else {
			r.notifyLog(fmt.Sprintf("Tracking %s with value %d for %s", r.cfg.LatencyMetric, int(value), variant), userKey)
			r.svc.metrics.RecordMetricEvent(metrics.EventKindLatency, variant)
		}
	} else {
		r.notifyLog(fmt.Sprintf("Skipping %s tracking (disabled)", r.cfg.LatencyMetric), userKey)
	}
}

// track delivers one binary conversion event.
func (r *runner) track(kind, eventKey string, evalCtx simulation.Context, variant, userKey string) {
	if err := r.run.client.TrackEvent(eventKey, evalCtx); err != nil {
		r.trackFailed(err, userKey)
		return
	}
	r.notifyLog(fmt.Sprintf("Tracking %s for %s", eventKey, variant), userKey)
	r.svc.metrics.RecordMetricEvent(kind, variant)
}

func (r *runner) trackFailed(err error, userKey string) {
	msg := fmt.Sprintf("Error during event sending: %v", err)
	r.sess.RecordError(msg)
	r.notifyLog(msg, userKey)
}

// pause waits for d, returning false when the run was stopped first.
func (r *runner) pause(d time.Duration) bool {
	select {
	case <-r.run.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

func (r *runner) notifyLog(message, userKey string) {
	r.svc.pushLog(r.sessionID, r.sess, message, userKey)
}

func variantName(treatment bool) string {
	if treatment {
		return simulation.VariantTreatment
	}
	return simulation.VariantControl
}
