package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	simulationapp "github.com/releaseguard/backend/internal/application/simulation"
	"github.com/releaseguard/backend/internal/domain/simulation"
	"github.com/releaseguard/backend/internal/infrastructure/config"
	"github.com/releaseguard/backend/internal/infrastructure/launchdarkly"
	"github.com/releaseguard/backend/internal/infrastructure/logger"
	"github.com/releaseguard/backend/internal/infrastructure/metrics"
	"github.com/releaseguard/backend/internal/interfaces/http/handler"
	"github.com/releaseguard/backend/internal/interfaces/http/middleware"
	"github.com/releaseguard/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting ReleaseGuard Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Initialize session registry and Prometheus metrics
	registry := simulation.NewRegistry(cfg.Simulation.MaxLogs)
	m := metrics.New()

	// Stream hub fans session status and log frames out to SSE subscribers
	hub := handler.NewStreamHandler(registry,
		handler.WithStreamLogger(log),
		handler.WithStreamDedupWindow(cfg.Simulation.DedupWindow),
	)
	if err := hub.Start(); err != nil {
		log.Fatal("Failed to start stream hub", zap.Error(err))
	}

	// LaunchDarkly REST API client and per-session SDK client factory
	flagAPI := launchdarkly.NewAPIClient(cfg.LaunchDarkly.APIBaseURL, cfg.LaunchDarkly.RequestTimeout)
	factory := launchdarkly.NewClientFactory(log,
		cfg.LaunchDarkly.InitWait,
		cfg.LaunchDarkly.EventCapacity,
		cfg.LaunchDarkly.EventFlushInterval,
	)

	// Simulation controller
	service := simulationapp.NewService(registry, factory, flagAPI, hub, m, log, simulationapp.Options{
		BatchSize:          cfg.Simulation.BatchSize,
		WaitInterval:       cfg.Simulation.WaitInterval,
		StatsInterval:      cfg.Simulation.StatsInterval,
		StatusPushStride:   cfg.Simulation.StatusPushStride,
		DefaultEnvironment: cfg.LaunchDarkly.DefaultEnvironment,
		RequestTimeout:     cfg.LaunchDarkly.RequestTimeout,
	})

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	// Initialize router with custom middleware
	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Recovery - Catch panics
	// 3. Logger - Log requests
	// 4. Security - Add security headers
	// 5. CORS - Handle cross-origin requests
	// 6. BodyLimit - Limit request body size
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	// Configure CORS from config
	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	// Body size limit
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(version))

	// Prometheus exposition endpoint (if enabled)
	if cfg.Metrics.Enabled {
		engine.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}

	// Proxy handler carries its own rate limiter so browser clients cannot
	// hammer the flag-management API through us
	proxyLimiter := middleware.NewRateLimiter(cfg.HTTP.ProxyRateLimitRequests, cfg.HTTP.ProxyRateLimitWindow)
	proxyHandler := handler.NewProxyHandler(
		&http.Client{Timeout: 30 * time.Second},
		middleware.RateLimit(proxyLimiter),
		log,
	)

	// Setup API routes using router
	router.NewRouter(engine, router.WithAPIVersion("v1")).
		Register(handler.NewSimulationHandler(service)).
		Register(hub).
		Register(proxyHandler).
		Register(handler.NewSystemHandler(cfg.App.Name, version)).
		Setup()

	// Create HTTP server with config
	// WriteTimeout stays at the configured value; the default of zero keeps
	// long-lived SSE streams from being cut off mid-connection
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop emission loops first, then release SSE subscribers so Shutdown
	// is not held open by streaming connections
	service.StopAll(ctx)
	hub.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler returns a handler for health check endpoints
func healthHandler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": version,
			"time":    time.Now().Format(time.RFC3339),
		})
	}
}
