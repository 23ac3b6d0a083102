package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/benchmark"
)

var (
	sumPrefix       string
	sumFile         string
	sumRecord       bool
	sumEndpoint     string
	sumModelID      string
	sumInstanceType string
	sumUsers        int
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize [directory...]",
	Short: "Summarize load test statistics into a benchmark summary CSV",
	Long: `Read every <prefix>*.csv_stats.csv file in the given directories (default
the current directory) and write one summary row per run: average prompt
and generated tokens, requests per second, time to first token and output
token throughput. The run name is the file name up to its first dot with
the prefix removed.

Files that cannot be summarized are reported and skipped.

Examples:
  neuronctl summarize
  neuronctl summarize results/ --prefix llama-
  neuronctl summarize results/ --record --model-id meta-llama/Llama-3.2-1B-Instruct`,
	RunE: runSummarize,
}

func init() {
	rootCmd.AddCommand(summarizeCmd)

	summarizeCmd.Flags().StringVar(&sumPrefix, "prefix", "", "Only read stats files starting with this prefix")
	summarizeCmd.Flags().StringVar(&sumFile, "summary-file", benchmark.DefaultSummaryFile, "Summary CSV to write")
	summarizeCmd.Flags().BoolVar(&sumRecord, "record", false, "Record the summaries in the results database")
	summarizeCmd.Flags().StringVar(&sumEndpoint, "endpoint", "", "Endpoint the runs were measured on (recorded)")
	summarizeCmd.Flags().StringVar(&sumModelID, "model-id", "", "Model id (recorded)")
	summarizeCmd.Flags().StringVar(&sumInstanceType, "instance-type", "", "Instance type (recorded)")
	summarizeCmd.Flags().IntVar(&sumUsers, "users", 0, "Users of the runs (recorded)")
}

func runSummarize(cmd *cobra.Command, args []string) error {
	summaries, sumErr := benchmark.SummarizeDir(sumPrefix, args...)
	for _, err := range multierr.Errors(sumErr) {
		logger.Warn("skipping stats file", slog.String("error", err.Error()))
	}
	if len(summaries) == 0 && sumErr != nil {
		return fmt.Errorf("no stats file could be summarized: %w", sumErr)
	}
	if len(summaries) == 0 {
		// The summary is still written, with only its header row
		logger.Warn("no stats files found",
			slog.String("pattern", sumPrefix+benchmark.StatsFilePattern),
			slog.Any("dirs", args))
	}

	if err := benchmark.WriteSummaryFile(sumFile, summaries); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	if sumRecord && len(summaries) > 0 {
		if err := recordSummaries(cmd, summaries); err != nil {
			return err
		}
	}

	if err := printSummaries(cmd.OutOrStdout(), summaries); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Summary written to %s\n", sumFile)
	return nil
}

func recordSummaries(cmd *cobra.Command, summaries []benchmark.Summary) error {
	ctx := cmd.Context()
	db, store, _, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, s := range summaries {
		result := &benchmark.Result{
			RunName:      s.RunName,
			Endpoint:     sumEndpoint,
			InstanceType: sumInstanceType,
			ModelID:      sumModelID,
			Users:        sumUsers,
			Summary:      s,
		}
		if err := store.Save(ctx, result); err != nil {
			return fmt.Errorf("failed to record %s: %w", s.RunName, err)
		}
		logger.Debug("recorded benchmark result",
			slog.String("id", result.ID),
			slog.String("run", s.RunName))
	}
	return nil
}
