// Package api serves load test progress, stored benchmark results and
// recorded deployments over HTTP, alongside Prometheus metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/benchmark"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/loadtest"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/metrics"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/storage"
)

// LoadTest exposes the progress of a running load test.
// *loadtest.Runner satisfies it.
type LoadTest interface {
	Stats() *loadtest.Stats
	ActiveUsers() int
}

// Server is the HTTP status server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger

	// Data sources; each is optional
	loadTest    LoadTest
	results     *benchmark.Store
	deployments *storage.DeploymentStore

	addr string

	// Readiness state (atomic for thread-safe access)
	ready atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAddr sets the listen address
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithLoadTest exposes a running load test
func WithLoadTest(lt LoadTest) Option {
	return func(s *Server) {
		s.loadTest = lt
	}
}

// WithBenchmarkStore sets the benchmark results store
func WithBenchmarkStore(store *benchmark.Store) Option {
	return func(s *Server) {
		s.results = store
	}
}

// WithDeploymentStore sets the deployment store
func WithDeploymentStore(store *storage.DeploymentStore) Option {
	return func(s *Server) {
		s.deployments = store
	}
}

// New creates a new status server
func New(opts ...Option) *Server {
	s := &Server{
		logger: slog.Default(),
		addr:   "127.0.0.1:9100",
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// SetReady sets the server readiness state
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	s.logger.Info("server readiness changed", slog.Bool("ready", ready))
}

// IsReady returns whether the server is ready to accept traffic
func (s *Server) IsReady() bool {
	return s.ready.Load()
}

// setupRouter configures the Gin router
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Add middleware
	router.Use(s.requestIDMiddleware())
	router.Use(s.metricsMiddleware())
	router.Use(s.loggingMiddleware())
	router.Use(s.recoveryMiddleware())

	// Health and readiness endpoints
	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Load test progress
		v1.GET("/loadtest/stats", s.handleLoadTestStats)

		// Benchmark results
		v1.GET("/benchmarks", s.handleListBenchmarks)
		v1.GET("/benchmarks/best", s.handleGetBestBenchmark)
		v1.GET("/benchmarks/:id", s.handleGetBenchmark)

		// Deployments
		v1.GET("/deployments", s.handleListDeployments)
		v1.GET("/deployments/:endpoint", s.handleGetDeployment)
	}

	s.router = router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting status server", slog.String("addr", s.addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down status server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the Gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Middleware

// validRequestIDRegex allows alphanumeric, dots, underscores, and hyphens up to 128 chars.
var validRequestIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

func isValidRequestID(id string) bool {
	return id != "" && validRequestIDRegex.MatchString(id)
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if !isValidRequestID(requestID) {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Use the matched route pattern for consistent path labels
		// so /benchmarks/:id reports one series
		path := c.FullPath()
		if path == "" {
			// Fallback for unmatched routes (404s)
			path = "unmatched"
		}

		duration := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method

		metrics.RecordHTTPRequest(method, path, status, duration)
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("request completed",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Duration("latency", latency),
			slog.String("request_id", c.GetString("request_id")),
			slog.String("client_ip", c.ClientIP()))
	}
}

func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				stack := string(debug.Stack())
				s.logger.Error("panic recovered",
					slog.Any("error", err),
					slog.String("stack", stack),
					slog.String("request_id", c.GetString("request_id")))

				c.JSON(http.StatusInternalServerError, ErrorResponse{
					Error:     "internal server error",
					RequestID: c.GetString("request_id"),
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}
