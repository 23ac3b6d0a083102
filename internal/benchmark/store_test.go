package benchmark

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "bench.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db.DB)
	require.NoError(t, err)
	return store
}

func TestStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	result := &Result{
		Endpoint:     "llama-endpoint",
		InstanceType: "ml.inf2.xlarge",
		ModelID:      "meta-llama/Llama-3.2-1B-Instruct",
		Users:        8,
		Summary:      Summary{RunName: "llama-u8", PromptTokens: 20, GeneratedTokens: 100, RequestsPerSecond: 2, TTFTSeconds: 0.25, Throughput: 50},
		Source:       "llama-u8.csv_stats.csv",
	}
	require.NoError(t, store.Save(ctx, result))
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "llama-u8", result.RunName)

	got, err := store.Get(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Summary, got.Summary)
	assert.Equal(t, 8, got.Users)
	assert.Equal(t, "llama-endpoint", got.Endpoint)
}

func TestStore_Get_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.BestThroughput(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Queries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	results := []*Result{
		{Timestamp: base, ModelID: "llama-1b", Summary: Summary{RunName: "u1", Throughput: 30}},
		{Timestamp: base.Add(time.Minute), ModelID: "llama-1b", Summary: Summary{RunName: "u8", Throughput: 120}},
		{Timestamp: base.Add(2 * time.Minute), ModelID: "llama-8b", Summary: Summary{RunName: "u8", Throughput: 200}},
	}
	for _, r := range results {
		require.NoError(t, store.Save(ctx, r))
	}

	recent, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "llama-8b", recent[0].ModelID)

	byRun, err := store.ListByRun(ctx, "u8")
	require.NoError(t, err)
	assert.Len(t, byRun, 2)

	best, err := store.BestThroughput(ctx, "llama-1b")
	require.NoError(t, err)
	assert.Equal(t, 120.0, best.Summary.Throughput)

	best, err = store.BestThroughput(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "llama-8b", best.ModelID)
}
