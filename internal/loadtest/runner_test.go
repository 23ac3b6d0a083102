package loadtest

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/endpoint"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/test/mockendpoint"
)

var alice = []string{
	"Alice was beginning to get very tired of sitting by her sister on the",
	"bank, and of having nothing to do: once or twice she had peeped into",
	"the book her sister was reading, but it had no pictures or",
	"conversations in it, \"and what is the use of a book,\" thought Alice",
}

func TestRandomize(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	sum := 0
	for i := 0; i < 2000; i++ {
		v := Randomize(rng, 64)
		require.GreaterOrEqual(t, v, 1)
		sum += v
	}
	mean := float64(sum) / 2000
	assert.InDelta(t, 63.5, mean, 1.5)

	for i := 0; i < 100; i++ {
		assert.GreaterOrEqual(t, Randomize(rng, 1), 1)
	}
}

func TestBuildPrompt(t *testing.T) {
	assert.Equal(t, alice[0]+"\n"+alice[1], BuildPrompt(alice, 2))
	assert.Equal(t, BuildPrompt(alice, len(alice)), BuildPrompt(alice, 100))
}

func TestLoadPrompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alice.txt")
	require.NoError(t, os.WriteFile(path, []byte("line one\r\nline two\n"), 0644))

	lines, err := LoadPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"line one", "line two"}, lines)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	_, err = LoadPrompt(empty)
	assert.ErrorContains(t, err, "empty")

	_, err = LoadPrompt(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	o := DefaultOptions()
	o.Users = 0
	assert.ErrorContains(t, o.Validate(), "users")

	o = DefaultOptions()
	o.SpawnRate = 0
	assert.ErrorContains(t, o.Validate(), "spawn rate")
}

func testOptions() Options {
	o := DefaultOptions()
	o.Users = 3
	o.SpawnRate = 100
	o.RunTime = 400 * time.Millisecond
	o.AverageOutputTokens = 8
	o.RequestTimeout = 5 * time.Second
	return o
}

func TestRunner_AgainstMock(t *testing.T) {
	mock := mockendpoint.NewServer(nil)
	srv := httptest.NewServer(mock)
	defer srv.Close()

	client := endpoint.NewHTTPClient(srv.URL, endpoint.WithChatCompletions())
	r, err := NewRunner(client, alice, testOptions(), WithSeed(7))
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 0, r.ActiveUsers())

	total, ok := r.Stats().Entry(EventTotalTime)
	require.True(t, ok)
	assert.Greater(t, total.NumRequests, 0)
	assert.Equal(t, 0, total.NumFailures)

	enc, ok := r.Stats().Entry(EventEncodingTime)
	require.True(t, ok)
	dec, ok := r.Stats().Entry(EventDecodingTime)
	require.True(t, ok)
	assert.Equal(t, total.NumRequests, enc.NumRequests)
	assert.Greater(t, enc.AverageContentSize(), 0.0)
	assert.Greater(t, dec.AverageContentSize(), 0.0)
	assert.InDelta(t, total.AverageContentSize(), enc.AverageContentSize()+dec.AverageContentSize(), 0.001)
}

func TestRunner_Failures(t *testing.T) {
	mock := mockendpoint.NewServer(nil)
	mock.State().SetFailure(http.StatusInternalServerError, "neuron runtime crashed")
	srv := httptest.NewServer(mock)
	defer srv.Close()

	o := testOptions()
	o.Users = 1
	o.RunTime = 200 * time.Millisecond
	o.RequestRate = 20

	r, err := NewRunner(endpoint.NewHTTPClient(srv.URL, endpoint.WithChatCompletions()), alice, o)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	total, ok := r.Stats().Entry(EventTotalTime)
	require.True(t, ok)
	assert.Equal(t, total.NumRequests, total.NumFailures)
	assert.LessOrEqual(t, total.NumRequests, 6)

	_, ok = r.Stats().Entry(EventEncodingTime)
	assert.False(t, ok)
	assert.NotEmpty(t, r.Stats().Errors())
}

func TestRunner_ParentCancel(t *testing.T) {
	mock := mockendpoint.NewServer(nil)
	mock.State().SetTokenDelay(50 * time.Millisecond)
	srv := httptest.NewServer(mock)
	defer srv.Close()

	o := testOptions()
	o.RunTime = 0

	r, err := NewRunner(endpoint.NewHTTPClient(srv.URL, endpoint.WithChatCompletions()), alice, o)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Run(ctx), context.DeadlineExceeded)
}

func TestNewRunner_NoPrompts(t *testing.T) {
	_, err := NewRunner(endpoint.NewHTTPClient("http://localhost"), nil, DefaultOptions())
	assert.Error(t, err)
}
