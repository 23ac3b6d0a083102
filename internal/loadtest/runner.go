package loadtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/endpoint"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/logging"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/metrics"
)

// Options configures a load test
type Options struct {
	Users     int
	SpawnRate float64       // users started per second
	RunTime   time.Duration // zero runs until the context is canceled

	// RequestRate caps requests per second across all users; zero is unlimited
	RequestRate float64

	AveragePromptLines  int
	AverageOutputTokens int
	SystemPrompt        string
	Temperature         float64
	RepetitionPenalty   float64
	RequestTimeout      time.Duration
}

// DefaultOptions returns the defaults of the load test command
func DefaultOptions() Options {
	return Options{
		Users:               1,
		SpawnRate:           1,
		RunTime:             5 * time.Minute,
		AveragePromptLines:  2,
		AverageOutputTokens: 64,
		SystemPrompt:        "Speak in a Medieval British style.",
		Temperature:         0.5,
		RepetitionPenalty:   1.0,
		RequestTimeout:      2 * time.Minute,
	}
}

// Validate checks the options
func (o Options) Validate() error {
	if o.Users < 1 {
		return fmt.Errorf("users must be at least 1")
	}
	if o.SpawnRate <= 0 {
		return fmt.Errorf("spawn rate must be positive")
	}
	if o.RunTime < 0 {
		return fmt.Errorf("run time must not be negative")
	}
	if o.RequestRate < 0 {
		return fmt.Errorf("request rate must not be negative")
	}
	if o.AveragePromptLines < 1 {
		return fmt.Errorf("average prompt lines must be at least 1")
	}
	if o.AverageOutputTokens < 1 {
		return fmt.Errorf("average output tokens must be at least 1")
	}
	return nil
}

// Runner drives simulated users against a chat completions endpoint
type Runner struct {
	client  endpoint.Streamer
	prompts []string
	opts    Options
	stats   *Stats
	limiter *rate.Limiter
	logger  *slog.Logger
	seed    uint64

	active atomic.Int32
}

// RunnerOption configures the runner
type RunnerOption func(*Runner)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithStats records into an existing collector
func WithStats(stats *Stats) RunnerOption {
	return func(r *Runner) {
		r.stats = stats
	}
}

// WithSeed makes prompt and token sizes reproducible
func WithSeed(seed uint64) RunnerOption {
	return func(r *Runner) {
		r.seed = seed
	}
}

// NewRunner creates a runner. prompts are the lines prompts are cut from.
func NewRunner(client endpoint.Streamer, prompts []string, opts Options, ropts ...RunnerOption) (*Runner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, errors.New("no prompt lines")
	}

	r := &Runner{
		client:  client,
		prompts: prompts,
		opts:    opts,
		logger:  slog.Default(),
		seed:    uint64(time.Now().UnixNano()),
	}
	for _, opt := range ropts {
		opt(r)
	}
	if r.stats == nil {
		r.stats = NewStats()
	}
	if opts.RequestRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.RequestRate), 1)
	}
	return r, nil
}

// Stats returns the collector
func (r *Runner) Stats() *Stats {
	return r.stats
}

// ActiveUsers returns the number of running users
func (r *Runner) ActiveUsers() int {
	return int(r.active.Load())
}

// Run spawns users at the spawn rate and keeps them sending requests until
// the run time elapses or ctx is canceled. Requests still in flight when
// the run ends are abandoned and not recorded.
func (r *Runner) Run(ctx context.Context) error {
	runCtx := ctx
	if r.opts.RunTime > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.opts.RunTime)
		defer cancel()
	}

	r.logger.Info("starting load test",
		slog.Int("users", r.opts.Users),
		slog.Float64("spawn_rate", r.opts.SpawnRate),
		slog.Duration("run_time", r.opts.RunTime))

	interval := time.Duration(float64(time.Second) / r.opts.SpawnRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
spawn:
	for i := 0; i < r.opts.Users; i++ {
		if i > 0 {
			select {
			case <-runCtx.Done():
				break spawn
			case <-ticker.C:
			}
		}
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.user(runCtx, id)
		}(i)
	}
	wg.Wait()

	agg := r.stats.Aggregated()
	r.logger.Info("load test finished",
		slog.Int("requests", agg.NumRequests),
		slog.Int("failures", agg.NumFailures))

	// A parent cancellation is an interruption, the run time elapsing is not
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (r *Runner) user(ctx context.Context, id int) {
	r.active.Add(1)
	metrics.ActiveUsers.Inc()
	defer func() {
		r.active.Add(-1)
		metrics.ActiveUsers.Dec()
	}()

	rng := rand.New(rand.NewPCG(r.seed, uint64(id)))
	for ctx.Err() == nil {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
		}
		r.send(ctx, rng)
	}
}

// send issues one chat request and fires its events
func (r *Runner) send(ctx context.Context, rng *rand.Rand) {
	lines := Randomize(rng, r.opts.AveragePromptLines)
	tokens := Randomize(rng, r.opts.AverageOutputTokens)

	req := endpoint.NewChatRequest(r.opts.SystemPrompt, BuildPrompt(r.prompts, lines), tokens)
	req.Temperature = r.opts.Temperature
	req.RepetitionPenalty = r.opts.RepetitionPenalty

	reqCtx := ctx
	if r.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, r.opts.RequestTimeout)
		defer cancel()
	}

	res, err := endpoint.StreamChat(reqCtx, r.client, req)
	if err != nil && ctx.Err() != nil {
		return
	}
	if err != nil {
		logging.Error(ctx, "request failed", slog.String("error", err.Error()))
	}
	r.Record(res, err)
}

// Record fires the events of one completed request
func (r *Runner) Record(res *endpoint.ChatResult, err error) {
	r.stats.Record(EventTotalTime, res.Total, res.PromptTokens+res.CompletionTokens, err)
	metrics.RecordRequestEvent(EventTotalTime, res.Total)
	metrics.RecordRequest(err != nil)
	metrics.RecordTokens(res.PromptTokens, res.CompletionTokens)

	if !res.FirstToken {
		return
	}
	r.stats.Record(EventEncodingTime, res.TTFT, res.PromptTokens, nil)
	r.stats.Record(EventDecodingTime, res.DecodeTime(), res.CompletionTokens, nil)
	metrics.RecordRequestEvent(EventEncodingTime, res.TTFT)
	metrics.RecordRequestEvent(EventDecodingTime, res.DecodeTime())
}
