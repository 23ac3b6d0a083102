package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/benchmark"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/loadtest"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/storage"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/pkg/models"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printSummaries(w io.Writer, summaries []benchmark.Summary) error {
	if outputFormat == "json" {
		return printJSON(w, summaries)
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "RUN\tPROMPT TOKENS\tGENERATED TOKENS\tREQ/S\tTTFT (S)\tTHROUGHPUT (T/S)")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%.3f\t%.3f\t%.1f\n",
			s.RunName, s.PromptTokens, s.GeneratedTokens, s.RequestsPerSecond, s.TTFTSeconds, s.Throughput)
	}
	return tw.Flush()
}

func printResults(w io.Writer, results []*benchmark.Result) error {
	if outputFormat == "json" {
		return printJSON(w, results)
	}

	if len(results) == 0 {
		fmt.Fprintln(w, "No benchmark results found.")
		return nil
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tRUN\tMODEL\tINSTANCE\tUSERS\tREQ/S\tTTFT (S)\tTHROUGHPUT (T/S)\tRECORDED")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.3f\t%.3f\t%.1f\t%s\n",
			shortID(r.ID), r.RunName, orDash(r.ModelID), orDash(r.InstanceType), r.Users,
			r.Summary.RequestsPerSecond, r.Summary.TTFTSeconds, r.Summary.Throughput,
			r.Timestamp.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func printDeployments(w io.Writer, deployments []*models.Deployment) error {
	if outputFormat == "json" {
		return printJSON(w, deployments)
	}

	if len(deployments) == 0 {
		fmt.Fprintln(w, "No deployments found.")
		return nil
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "ENDPOINT\tSTATUS\tSERVER\tMODEL\tINSTANCE\tCREATED")
	for _, d := range deployments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s x%d\t%s\n",
			d.EndpointName, d.Status, d.Server, d.ModelID, d.InstanceType, d.InstanceCount,
			d.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func printStats(w io.Writer, stats *loadtest.Stats) error {
	if outputFormat == "json" {
		return printJSON(w, map[string]any{
			"entries": stats.Entries(),
			"errors":  stats.Errors(),
		})
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tREQUESTS\tFAILURES\tMEDIAN (MS)\tAVG (MS)\tMIN (MS)\tMAX (MS)\tAVG SIZE\tREQ/S")
	rows := append(stats.Entries(), stats.Aggregated())
	for _, e := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.0f\t%.0f\t%.0f\t%.0f\t%.1f\t%.2f\n",
			e.Name, e.NumRequests, e.NumFailures, e.MedianResponseTime(), e.AverageResponseTime(),
			e.MinResponseTime, e.MaxResponseTime, e.AverageContentSize(), e.RequestsPerSecond())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	errs := stats.Errors()
	if len(errs) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Errors:")
		for msg, n := range errs {
			fmt.Fprintf(w, "  %dx %s\n", n, msg)
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// openStores opens the results database and runs migrations
func openStores(ctx context.Context) (*storage.DB, *benchmark.Store, *storage.DeploymentStore, error) {
	db, err := storage.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	results, err := benchmark.NewStore(db.DB)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return db, results, storage.NewDeploymentStore(db), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
