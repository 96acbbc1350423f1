package launchdarkly

import (
	"fmt"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	ld "github.com/launchdarkly/go-server-sdk/v7"
	"github.com/launchdarkly/go-server-sdk/v7/ldcomponents"
	"go.uber.org/zap"

	"github.com/releaseguard/backend/internal/domain/shared"
	"github.com/releaseguard/backend/internal/domain/simulation"
)

// ClientFactory builds SDK evaluation clients with the server's event
// batching settings. It implements simulation.ClientFactory.
type ClientFactory struct {
	logger        *zap.Logger
	initWait      time.Duration
	eventCapacity int
	flushInterval time.Duration
}

// NewClientFactory creates a factory for session evaluation clients.
func NewClientFactory(logger *zap.Logger, initWait time.Duration, eventCapacity int, flushInterval time.Duration) *ClientFactory {
	return &ClientFactory{
		logger:        logger,
		initWait:      initWait,
		eventCapacity: eventCapacity,
		flushInterval: flushInterval,
	}
}

// New connects an SDK client for the given key. A client that is still
// initializing when the wait expires is returned anyway; its evaluations
// serve the default variation until the data store is ready.
func (f *ClientFactory) New(sdkKey string) (simulation.EvaluationClient, error) {
	var cfg ld.Config
	cfg.Events = ldcomponents.SendEvents().
		Capacity(f.eventCapacity).
		FlushInterval(f.flushInterval)

	inner, err := ld.MakeCustomClient(sdkKey, cfg, f.initWait)
	if err != nil {
		if inner == nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrClientInit, err)
		}
		f.logger.Warn("Evaluation client not ready within init wait",
			zap.Duration("init_wait", f.initWait),
			zap.Error(err))
	}

	return &Client{inner: inner}, nil
}

// Client wraps one SDK client for the lifetime of a running session.
type Client struct {
	inner *ld.LDClient
}

// Evaluate resolves the flag for the generated identity.
func (c *Client) Evaluate(flagKey string, evalCtx simulation.Context) (simulation.EvaluationResult, error) {
	treatment, detail, err := c.inner.BoolVariationDetail(flagKey, evalContext(evalCtx), false)
	if err != nil {
		return simulation.EvaluationResult{}, err
	}

	return simulation.EvaluationResult{
		Treatment:    treatment,
		InExperiment: detail.Reason.IsInExperiment(),
	}, nil
}

// TrackEvent records a binary conversion event for the identity.
func (c *Client) TrackEvent(eventKey string, evalCtx simulation.Context) error {
	return c.inner.TrackEvent(eventKey, evalContext(evalCtx))
}

// TrackMetric records a numeric measurement for the identity.
func (c *Client) TrackMetric(eventKey string, evalCtx simulation.Context, value float64) error {
	return c.inner.TrackMetric(eventKey, evalContext(evalCtx), value, ldvalue.Null())
}

// Flush forces delivery of any buffered events.
func (c *Client) Flush() {
	c.inner.Flush()
}

// Close flushes and shuts down the SDK client.
func (c *Client) Close() error {
	return c.inner.Close()
}

// evalContext converts a generated identity into the SDK's multi-kind
// context format.
func evalContext(sc simulation.Context) ldcontext.Context {
	user := ldcontext.NewBuilder(sc.User.Key).
		Kind("user").
		Name(sc.User.Name).
		SetString("plan", sc.User.Plan).
		SetString("role", sc.User.Role).
		SetString("metro", sc.User.Metro).
		SetBool("beta", sc.User.Beta).
		Build()

	device := ldcontext.NewBuilder(sc.Device.Key).
		Kind("device").
		SetString("os", sc.Device.OS).
		SetString("type", sc.Device.Type).
		SetString("version", sc.Device.Version).
		Build()

	org := ldcontext.NewBuilder(sc.Organization.Key).
		Kind("organization").
		Name(sc.Organization.Name).
		SetString("region", sc.Organization.Region).
		SetInt("employees", sc.Organization.Employees).
		Build()

	return ldcontext.NewMulti(user, device, org)
}
