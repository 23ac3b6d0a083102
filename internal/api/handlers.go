package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/benchmark"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/loadtest"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/storage"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/pkg/models"
)

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"`
}

// ReadyResponse is the readiness check response
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// EntryResponse summarizes one load test event name
type EntryResponse struct {
	Name                string           `json:"name"`
	Requests            int              `json:"requests"`
	Failures            int              `json:"failures"`
	MedianResponseTime  float64          `json:"median_response_time_ms"`
	AverageResponseTime float64          `json:"average_response_time_ms"`
	MinResponseTime     float64          `json:"min_response_time_ms"`
	MaxResponseTime     float64          `json:"max_response_time_ms"`
	AverageContentSize  float64          `json:"average_content_size"`
	RequestsPerSecond   float64          `json:"requests_per_second"`
	Percentiles         map[string]int64 `json:"percentiles,omitempty"`
}

// LoadTestStatsResponse is the load test progress response
type LoadTestStatsResponse struct {
	ActiveUsers int             `json:"active_users"`
	Entries     []EntryResponse `json:"entries"`
	Aggregated  EntryResponse   `json:"aggregated"`
	Errors      map[string]int  `json:"errors,omitempty"`
}

// BenchmarkQuery defines query parameters for listing results
type BenchmarkQuery struct {
	Run   string `form:"run"`
	Model string `form:"model"`
	Limit int    `form:"limit"`
}

// DeploymentQuery defines query parameters for listing deployments
type DeploymentQuery struct {
	Active bool `form:"active"`
	Limit  int  `form:"limit"`
}

func (s *Server) handleHealth(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	if s.loadTest != nil {
		response.Services["loadtest"] = "running"
	}
	if s.results != nil {
		response.Services["benchmarks"] = "ok"
	}
	if s.deployments != nil {
		response.Services["deployments"] = "ok"
	}

	if !s.ready.Load() {
		response.Status = "unavailable"
		response.Services["ready"] = "false"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	response.Services["ready"] = "true"
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleReady(c *gin.Context) {
	response := ReadyResponse{
		Ready:     s.ready.Load(),
		Timestamp: time.Now(),
	}

	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error:     what + " not available",
		RequestID: c.GetString("request_id"),
	})
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:     msg + ": " + err.Error(),
		RequestID: c.GetString("request_id"),
	})
}

func (s *Server) notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, ErrorResponse{
		Error:     msg,
		RequestID: c.GetString("request_id"),
	})
}

func entryResponse(e loadtest.Entry) EntryResponse {
	r := EntryResponse{
		Name:                e.Name,
		Requests:            e.NumRequests,
		Failures:            e.NumFailures,
		MedianResponseTime:  e.MedianResponseTime(),
		AverageResponseTime: e.AverageResponseTime(),
		MinResponseTime:     e.MinResponseTime,
		MaxResponseTime:     e.MaxResponseTime,
		AverageContentSize:  e.AverageContentSize(),
		RequestsPerSecond:   e.RequestsPerSecond(),
	}
	if e.NumRequests > 0 {
		r.Percentiles = make(map[string]int64, len(loadtest.Percentiles))
		for i, p := range loadtest.Percentiles {
			r.Percentiles[loadtest.PercentileLabel(i)] = e.Percentile(p)
		}
	}
	return r
}

func (s *Server) handleLoadTestStats(c *gin.Context) {
	if s.loadTest == nil {
		s.unavailable(c, "load test")
		return
	}

	stats := s.loadTest.Stats()
	entries := stats.Entries()
	response := LoadTestStatsResponse{
		ActiveUsers: s.loadTest.ActiveUsers(),
		Entries:     make([]EntryResponse, 0, len(entries)),
		Aggregated:  entryResponse(stats.Aggregated()),
		Errors:      stats.Errors(),
	}
	for _, e := range entries {
		response.Entries = append(response.Entries, entryResponse(e))
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) handleListBenchmarks(c *gin.Context) {
	if s.results == nil {
		s.unavailable(c, "benchmark store")
		return
	}

	var query BenchmarkQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid query parameters: " + err.Error(),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	ctx := c.Request.Context()
	var results []*benchmark.Result
	var err error
	if query.Run != "" {
		results, err = s.results.ListByRun(ctx, query.Run)
	} else {
		results, err = s.results.ListRecent(ctx, limit)
	}
	if err != nil {
		s.internalError(c, "failed to list benchmarks", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"benchmarks": results,
		"count":      len(results),
	})
}

func (s *Server) handleGetBenchmark(c *gin.Context) {
	if s.results == nil {
		s.unavailable(c, "benchmark store")
		return
	}

	result, err := s.results.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, benchmark.ErrNotFound) {
		s.notFound(c, "benchmark not found")
		return
	}
	if err != nil {
		s.internalError(c, "failed to fetch benchmark", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetBestBenchmark(c *gin.Context) {
	if s.results == nil {
		s.unavailable(c, "benchmark store")
		return
	}

	result, err := s.results.BestThroughput(c.Request.Context(), c.Query("model"))
	if errors.Is(err, benchmark.ErrNotFound) {
		s.notFound(c, "no benchmarks found")
		return
	}
	if err != nil {
		s.internalError(c, "failed to fetch benchmark", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListDeployments(c *gin.Context) {
	if s.deployments == nil {
		s.unavailable(c, "deployment store")
		return
	}

	var query DeploymentQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid query parameters: " + err.Error(),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	filter := storage.DeploymentFilter{Limit: query.Limit}
	if query.Active {
		filter.Statuses = []models.DeploymentStatus{models.StatusCreating, models.StatusInService}
	}

	deployments, err := s.deployments.List(c.Request.Context(), filter)
	if err != nil {
		s.internalError(c, "failed to list deployments", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deployments": deployments,
		"count":       len(deployments),
	})
}

func (s *Server) handleGetDeployment(c *gin.Context) {
	if s.deployments == nil {
		s.unavailable(c, "deployment store")
		return
	}

	d, err := s.deployments.GetByEndpoint(c.Request.Context(), c.Param("endpoint"))
	if errors.Is(err, storage.ErrNotFound) {
		s.notFound(c, "deployment not found")
		return
	}
	if err != nil {
		s.internalError(c, "failed to fetch deployment", err)
		return
	}

	c.JSON(http.StatusOK, d)
}
