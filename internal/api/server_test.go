package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/benchmark"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/loadtest"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/storage"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/pkg/models"
)

type fakeLoadTest struct {
	stats *loadtest.Stats
	users int
}

func (f *fakeLoadTest) Stats() *loadtest.Stats { return f.stats }
func (f *fakeLoadTest) ActiveUsers() int       { return f.users }

type testServer struct {
	*Server
	results     *benchmark.Store
	deployments *storage.DeploymentStore
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })

	results, err := benchmark.NewStore(db.DB)
	require.NoError(t, err)
	deployments := storage.NewDeploymentStore(db)

	stats := loadtest.NewStats()
	stats.Record(loadtest.EventTotalTime, 500*time.Millisecond, 0, nil)
	stats.Record(loadtest.EventEncodingTime, 120*time.Millisecond, 42, nil)
	stats.Record(loadtest.EventDecodingTime, 380*time.Millisecond, 64, nil)

	server := New(
		WithLoadTest(&fakeLoadTest{stats: stats, users: 4}),
		WithBenchmarkStore(results),
		WithDeploymentStore(deployments),
	)
	// Set server as ready by default in tests
	server.SetReady(true)
	return &testServer{Server: server, results: results, deployments: deployments}
}

func (s *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	server := setupTestServer(t)

	w := server.get(t, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var response HealthResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "true", response.Services["ready"])
	assert.Equal(t, "running", response.Services["loadtest"])
}

func TestHealthNotReady(t *testing.T) {
	server := setupTestServer(t)
	server.SetReady(false)

	w := server.get(t, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response HealthResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "unavailable", response.Status)
	assert.Equal(t, "false", response.Services["ready"])
}

func TestReadyEndpoint(t *testing.T) {
	server := setupTestServer(t)

	w := server.get(t, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	var response ReadyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Ready)

	server.SetReady(false)
	w = server.get(t, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestID(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "bench-run-1")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	assert.Equal(t, "bench-run-1", w.Header().Get("X-Request-ID"))

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "bad id with spaces")
	w = httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	assert.NotEqual(t, "bad id with spaces", w.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	server := setupTestServer(t)
	server.get(t, "/health")

	w := server.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestLoadTestStats(t *testing.T) {
	server := setupTestServer(t)

	w := server.get(t, "/api/v1/loadtest/stats")
	assert.Equal(t, http.StatusOK, w.Code)

	var response LoadTestStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 4, response.ActiveUsers)
	require.Len(t, response.Entries, 3)
	assert.Equal(t, "decoding_time", response.Entries[0].Name)
	assert.Equal(t, 64.0, response.Entries[0].AverageContentSize)
	assert.Equal(t, int64(380), response.Entries[0].Percentiles["50%"])
	assert.Equal(t, "Aggregated", response.Aggregated.Name)
	assert.Equal(t, 3, response.Aggregated.Requests)
}

func TestLoadTestStats_Unavailable(t *testing.T) {
	server := New()

	req := httptest.NewRequest("GET", "/api/v1/loadtest/stats", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestBenchmarks(t *testing.T) {
	server := setupTestServer(t)
	ctx := context.Background()

	slow := &benchmark.Result{ModelID: "llama-1b", Summary: benchmark.Summary{RunName: "u1", Throughput: 30}}
	fast := &benchmark.Result{ModelID: "llama-1b", Summary: benchmark.Summary{RunName: "u8", Throughput: 120}}
	require.NoError(t, server.results.Save(ctx, slow))
	require.NoError(t, server.results.Save(ctx, fast))

	w := server.get(t, "/api/v1/benchmarks")
	assert.Equal(t, http.StatusOK, w.Code)
	var list map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, int(list["count"].(float64)))

	w = server.get(t, "/api/v1/benchmarks?run=u8")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, int(list["count"].(float64)))

	w = server.get(t, "/api/v1/benchmarks/best?model=llama-1b")
	assert.Equal(t, http.StatusOK, w.Code)
	var best benchmark.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &best))
	assert.Equal(t, fast.ID, best.ID)

	w = server.get(t, "/api/v1/benchmarks/"+slow.ID)
	assert.Equal(t, http.StatusOK, w.Code)
	var got benchmark.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "u1", got.RunName)

	w = server.get(t, "/api/v1/benchmarks/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = server.get(t, "/api/v1/benchmarks?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeployments(t *testing.T) {
	server := setupTestServer(t)
	ctx := context.Background()

	live := &models.Deployment{EndpointName: "llama-endpoint", ModelName: "llama-model", Status: models.StatusInService}
	gone := &models.Deployment{EndpointName: "old-endpoint", ModelName: "old-model", Status: models.StatusDeleted}
	require.NoError(t, server.deployments.Create(ctx, live))
	require.NoError(t, server.deployments.Create(ctx, gone))

	w := server.get(t, "/api/v1/deployments?active=true")
	assert.Equal(t, http.StatusOK, w.Code)
	var list map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, int(list["count"].(float64)))

	w = server.get(t, "/api/v1/deployments")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, int(list["count"].(float64)))

	w = server.get(t, "/api/v1/deployments/llama-endpoint")
	assert.Equal(t, http.StatusOK, w.Code)
	var d models.Deployment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, models.StatusInService, d.Status)

	w = server.get(t, "/api/v1/deployments/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
