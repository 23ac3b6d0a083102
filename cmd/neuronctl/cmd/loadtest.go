package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/api"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/deploy"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/loadtest"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/logging"
)

var (
	ltUsers          int
	ltSpawnRate      float64
	ltRunTime        time.Duration
	ltRequestRate    float64
	ltPromptFile     string
	ltPromptLines    int
	ltOutputTokens   int
	ltSystemPrompt   string
	ltTemperature    float64
	ltRepetition     float64
	ltRequestTimeout time.Duration
	ltCSVPrefix      string
	ltURL            string
	ltRegion         string
	ltMetricsAddr    string
	ltSeed           uint64
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest [endpoint]",
	Short: "Load test a chat completions endpoint",
	Long: `Spawn simulated users that send chat completion requests with randomized
prompt and output sizes, then write Locust-compatible statistics.

Every request records three events: total_time (the whole request),
encoding_time (time to first token, sized in prompt tokens) and
decoding_time (the rest of the generation, sized in completion tokens).
Statistics are written to <csv>_stats.csv where <csv> defaults to
<endpoint>-u<users>.csv so that 'neuronctl summarize' picks them up.

Examples:
  neuronctl loadtest my-endpoint --users 8 --spawn-rate 2 --run-time 5m
  neuronctl loadtest --url http://localhost:8080 --users 4 --run-time 30s
  neuronctl loadtest my-endpoint --users 32 --metrics-addr :9100`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLoadTest,
}

func init() {
	rootCmd.AddCommand(loadtestCmd)

	f := loadtestCmd.Flags()
	f.IntVarP(&ltUsers, "users", "u", 0, "Number of simulated users (defaults to loadtest.users)")
	f.Float64VarP(&ltSpawnRate, "spawn-rate", "r", 0, "Users started per second (defaults to loadtest.spawn_rate)")
	f.DurationVarP(&ltRunTime, "run-time", "t", 0, "Test duration (defaults to loadtest.run_time)")
	f.Float64Var(&ltRequestRate, "request-rate", 0, "Cap on requests per second across all users")
	f.StringVar(&ltPromptFile, "prompt-file", "", "Text file prompts are cut from (defaults to loadtest.prompt_file)")
	f.IntVar(&ltPromptLines, "prompt-lines", 0, "Average number of prompt lines (defaults to loadtest.average_prompt_lines)")
	f.IntVar(&ltOutputTokens, "output-tokens", 0, "Average number of generated tokens (defaults to loadtest.average_output_tokens)")
	f.StringVar(&ltSystemPrompt, "system-prompt", "", "System prompt (defaults to loadtest.system_prompt)")
	f.Float64Var(&ltTemperature, "temperature", -1, "Sampling temperature (defaults to loadtest.temperature)")
	f.Float64Var(&ltRepetition, "repetition-penalty", -1, "Repetition penalty (defaults to loadtest.repetition_penalty)")
	f.DurationVar(&ltRequestTimeout, "request-timeout", 0, "Per-request timeout (defaults to loadtest.request_timeout)")
	f.StringVar(&ltCSVPrefix, "csv", "", "Stats file prefix (default <endpoint>-u<users>.csv)")
	f.StringVar(&ltURL, "url", "", "Base URL of a plain HTTP chat completions server instead of a SageMaker endpoint")
	f.StringVar(&ltRegion, "region", "", "AWS region (defaults to aws.region)")
	f.StringVar(&ltMetricsAddr, "metrics-addr", "", "Serve progress and Prometheus metrics on this address (defaults to metrics.addr)")
	f.Uint64Var(&ltSeed, "seed", 0, "Random seed for prompt and output sizes (0 picks one)")
}

func loadTestOptions() loadtest.Options {
	c := cfg.LoadTest
	opts := loadtest.Options{
		Users:               firstPositive(ltUsers, c.Users),
		SpawnRate:           c.SpawnRate,
		RunTime:             c.RunTime,
		RequestRate:         ltRequestRate,
		AveragePromptLines:  firstPositive(ltPromptLines, c.AveragePromptLines),
		AverageOutputTokens: firstPositive(ltOutputTokens, c.AverageOutputTokens),
		SystemPrompt:        firstNonEmpty(ltSystemPrompt, c.SystemPrompt),
		Temperature:         c.Temperature,
		RepetitionPenalty:   c.RepetitionPenalty,
		RequestTimeout:      c.RequestTimeout,
	}
	if ltSpawnRate > 0 {
		opts.SpawnRate = ltSpawnRate
	}
	if ltRunTime > 0 {
		opts.RunTime = ltRunTime
	}
	if ltTemperature >= 0 {
		opts.Temperature = ltTemperature
	}
	if ltRepetition >= 0 {
		opts.RepetitionPenalty = ltRepetition
	}
	if ltRequestTimeout > 0 {
		opts.RequestTimeout = ltRequestTimeout
	}
	return opts
}

// csvPrefix names the stats file after the endpoint and user count
func csvPrefix(args []string, users int) string {
	if ltCSVPrefix != "" {
		return ltCSVPrefix
	}
	name := "loadtest"
	if len(args) > 0 {
		name = deploy.SanitizeName(args[0])
	}
	return fmt.Sprintf("%s-u%d.csv", name, users)
}

func runLoadTest(cmd *cobra.Command, args []string) error {
	opts := loadTestOptions()
	if err := opts.Validate(); err != nil {
		return err
	}

	prompts, err := loadtest.LoadPrompt(firstNonEmpty(ltPromptFile, cfg.LoadTest.PromptFile))
	if err != nil {
		return err
	}

	client, err := newEndpointClient(args, ltURL, ltRegion, true)
	if err != nil {
		return err
	}

	runOpts := []loadtest.RunnerOption{loadtest.WithLogger(logger)}
	if ltSeed != 0 {
		runOpts = append(runOpts, loadtest.WithSeed(ltSeed))
	}
	runner, err := loadtest.NewRunner(client, prompts, opts, runOpts...)
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithEndpoint(ctx, client.Name())
	ctx = logging.WithRunID(ctx, runID)

	if addr := firstNonEmpty(ltMetricsAddr, cfg.Metrics.Addr); addr != "" {
		server := api.New(
			api.WithAddr(addr),
			api.WithLogger(logger),
			api.WithLoadTest(runner),
		)
		server.SetReady(true)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	logging.Audit(ctx, "loadtest_started",
		slog.String("endpoint", client.Name()),
		slog.Int("users", opts.Users),
		slog.Duration("run_time", opts.RunTime))

	runErr := runner.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if runErr != nil {
		logger.Warn("load test interrupted, writing partial statistics")
	}

	path, err := loadtest.WriteStatsFile(csvPrefix(args, opts.Users), runner.Stats())
	if err != nil {
		return err
	}

	if err := printStats(cmd.OutOrStdout(), runner.Stats()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Statistics written to %s\n", path)
	return nil
}
