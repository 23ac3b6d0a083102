package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/benchmark"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/storage"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/pkg/models"
)

var (
	resultsLimit  int
	resultsRun    string
	resultsModel  string
	deploysActive bool

	reportModel string
	reportLimit int
	reportFile  string
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "View recorded benchmark results",
	Long: `View benchmark results recorded with 'neuronctl summarize --record'.

Examples:
  neuronctl results list                 # Most recent results
  neuronctl results list --run llama-u8  # Results of one run name
  neuronctl results best --model x       # Highest output throughput for a model
  neuronctl results report --file r.md   # Markdown report of recent results`,
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded results",
	RunE:  runResultsList,
}

var resultsBestCmd = &cobra.Command{
	Use:   "best",
	Short: "Show the result with the highest output token throughput",
	RunE:  runResultsBest,
}

var resultsReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render recorded results as a Markdown report",
	RunE:  runResultsReport,
}

var deploymentsCmd = &cobra.Command{
	Use:   "deployments",
	Short: "List recorded deployments",
	RunE:  runDeployments,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(resultsListCmd)
	resultsCmd.AddCommand(resultsBestCmd)
	resultsCmd.AddCommand(resultsReportCmd)
	rootCmd.AddCommand(deploymentsCmd)

	resultsListCmd.Flags().IntVar(&resultsLimit, "limit", 20, "Maximum number of results")
	resultsListCmd.Flags().StringVar(&resultsRun, "run", "", "Only show results of this run name")
	resultsBestCmd.Flags().StringVar(&resultsModel, "model", "", "Restrict to a model id")
	resultsReportCmd.Flags().StringVar(&reportModel, "model", "", "Restrict to a model id")
	resultsReportCmd.Flags().IntVar(&reportLimit, "limit", 100, "Maximum number of results to include")
	resultsReportCmd.Flags().StringVar(&reportFile, "file", "", "Write the report to this file instead of stdout")
	deploymentsCmd.Flags().BoolVar(&deploysActive, "active", false, "Only show deployments that may still be running")
}

func runResultsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, store, _, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	var results []*benchmark.Result
	if resultsRun != "" {
		results, err = store.ListByRun(ctx, resultsRun)
	} else {
		results, err = store.ListRecent(ctx, resultsLimit)
	}
	if err != nil {
		return err
	}
	return printResults(cmd.OutOrStdout(), results)
}

func runResultsBest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, store, _, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	best, err := store.BestThroughput(ctx, resultsModel)
	if err != nil {
		return err
	}
	return printResults(cmd.OutOrStdout(), []*benchmark.Result{best})
}

func runResultsReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, store, _, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	recent, err := store.ListRecent(ctx, reportLimit)
	if err != nil {
		return err
	}

	report := &benchmark.MarkdownReport{}
	for _, r := range recent {
		if reportModel == "" || r.ModelID == reportModel {
			report.Results = append(report.Results, r)
		}
	}
	if reportModel != "" {
		report.Title = "Benchmark Report: " + reportModel
	}

	if reportFile == "" {
		_, err := report.WriteTo(cmd.OutOrStdout())
		return err
	}
	if err := os.WriteFile(reportFile, []byte(report.Generate()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", reportFile)
	return nil
}

func runDeployments(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, _, store, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	filter := storage.DeploymentFilter{}
	if deploysActive {
		filter.Statuses = []models.DeploymentStatus{models.StatusCreating, models.StatusInService}
	}
	deployments, err := store.List(ctx, filter)
	if err != nil {
		return err
	}
	return printDeployments(cmd.OutOrStdout(), deployments)
}
