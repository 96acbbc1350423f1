// Package integration contains end-to-end tests that drive the HTTP API
// through the full middleware stack, with only the LaunchDarkly boundary
// replaced by stubs.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	simulationapp "github.com/releaseguard/backend/internal/application/simulation"
	"github.com/releaseguard/backend/internal/domain/simulation"
	"github.com/releaseguard/backend/internal/infrastructure/logger"
	"github.com/releaseguard/backend/internal/infrastructure/metrics"
	"github.com/releaseguard/backend/internal/interfaces/http/handler"
	"github.com/releaseguard/backend/internal/interfaces/http/middleware"
	"github.com/releaseguard/backend/internal/interfaces/http/router"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// APIResponse mirrors the standard response envelope.
type APIResponse struct {
	Success bool                   `json:"success"`
	Data    interface{}            `json:"data"`
	Error   *APIError              `json:"error"`
	Meta    map[string]interface{} `json:"meta"`
}

// APIError mirrors the error half of the envelope.
type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details"`
	RequestID string      `json:"request_id"`
}

// stubClient is an EvaluationClient with canned behavior. Every evaluation
// lands in the measured audience on the control variation.
type stubClient struct {
	mu     sync.Mutex
	closed bool
}

func (c *stubClient) Evaluate(flagKey string, evalCtx simulation.Context) (simulation.EvaluationResult, error) {
	return simulation.EvaluationResult{Treatment: false, InExperiment: true}, nil
}

func (c *stubClient) TrackEvent(eventKey string, evalCtx simulation.Context) error { return nil }

func (c *stubClient) TrackMetric(eventKey string, evalCtx simulation.Context, value float64) error {
	return nil
}

func (c *stubClient) Flush() {}

func (c *stubClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type stubFactory struct {
	client *stubClient
}

func (f *stubFactory) New(sdkKey string) (simulation.EvaluationClient, error) {
	return f.client, nil
}

// stubFlagAPI serves fixed rollout and environment answers that tests can
// flip at runtime.
type stubFlagAPI struct {
	mu     sync.Mutex
	active bool
	env    string
}

func (a *stubFlagAPI) GuardedRolloutActive(ctx context.Context, cfg simulation.Config, envKey string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active, nil
}

func (a *stubFlagAPI) ResolveEnvironmentKey(ctx context.Context, cfg simulation.Config) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.env, nil
}

func (a *stubFlagAPI) setActive(active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = active
}

// TestServer wires the real service, hub, and HTTP stack the way
// cmd/server does, against stubbed LaunchDarkly ports.
type TestServer struct {
	Engine   *gin.Engine
	Registry *simulation.Registry
	Service  *simulationapp.Service
	Hub      *handler.StreamHandler
	Metrics  *metrics.Metrics
	FlagAPI  *stubFlagAPI
	Client   *stubClient
}

// NewTestServer builds a fully wired test server. Loops run with short
// intervals so rollout transitions are observable within test timeouts.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()

	log := zap.NewNop()
	registry := simulation.NewRegistry(200)
	m := metrics.New()

	hub := handler.NewStreamHandler(registry, handler.WithStreamLogger(log))
	require.NoError(t, hub.Start())

	client := &stubClient{}
	flagAPI := &stubFlagAPI{env: "production"}
	service := simulationapp.NewService(registry, &stubFactory{client: client}, flagAPI, hub, m, log, simulationapp.Options{
		BatchSize:          5,
		WaitInterval:       10 * time.Millisecond,
		StatsInterval:      time.Millisecond,
		StatusPushStride:   2,
		DefaultEnvironment: "production",
		RequestTimeout:     time.Second,
	})

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Request-ID", "X-Session-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           time.Hour,
	}))
	engine.Use(middleware.BodyLimit(1 << 20))

	engine.GET("/metrics", gin.WrapH(m.Handler()))

	proxyLimiter := middleware.NewRateLimiter(3, time.Minute)
	proxyHandler := handler.NewProxyHandler(
		&http.Client{Timeout: 5 * time.Second},
		middleware.RateLimit(proxyLimiter),
		log,
	)

	router.NewRouter(engine, router.WithAPIVersion("v1")).
		Register(handler.NewSimulationHandler(service)).
		Register(hub).
		Register(proxyHandler).
		Register(handler.NewSystemHandler("releaseguard-test", "0.0.0-test")).
		Setup()

	ts := &TestServer{
		Engine:   engine,
		Registry: registry,
		Service:  service,
		Hub:      hub,
		Metrics:  m,
		FlagAPI:  flagAPI,
		Client:   client,
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		service.StopAll(ctx)
		hub.Stop()
	})
	return ts
}

// Request performs an HTTP request against the test server.
func (ts *TestServer) Request(t *testing.T, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return ts.RequestWithHeaders(t, method, path, payload, nil)
}

// RequestWithHeaders performs an HTTP request with extra headers.
func (ts *TestServer) RequestWithHeaders(t *testing.T, method, path string, payload interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)
	return w
}

// Decode unmarshals the response envelope.
func (ts *TestServer) Decode(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// CreateSession mints a session through the API and returns its id.
func (ts *TestServer) CreateSession(t *testing.T) string {
	t.Helper()
	w := ts.Request(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := ts.Decode(t, w)
	require.True(t, resp.Success)
	id, ok := resp.Data.(map[string]interface{})["session_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)
	return id
}

// validConfig returns a start payload that passes validation.
func validConfig() map[string]interface{} {
	return map[string]interface{}{
		"sdk_key":                           "sdk-integration-key",
		"api_key":                           "api-integration-key",
		"project_key":                       "demo-project",
		"flag_key":                          "new-checkout",
		"latency_metric_1":                  "checkout-latency",
		"error_metric_1":                    "checkout-errors",
		"business_metric_1":                 "checkout-conversions",
		"latency_metric_1_enabled":          true,
		"error_metric_1_enabled":            true,
		"business_metric_1_enabled":         true,
		"latency_metric_1_false_range":      []int{50, 125},
		"latency_metric_1_true_range":       []int{52, 131},
		"error_metric_1_false_converted":    2,
		"error_metric_1_true_converted":     2,
		"business_metric_1_false_converted": 99,
		"business_metric_1_true_converted":  99,
		"evaluations_per_second":            100,
	}
}
