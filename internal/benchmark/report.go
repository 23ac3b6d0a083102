package benchmark

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// MarkdownReport renders recorded results as a human-readable report
type MarkdownReport struct {
	Title   string
	Results []*Result
	Now     func() time.Time
}

// Generate returns the report as Markdown
func (r *MarkdownReport) Generate() string {
	var sb strings.Builder

	title := r.Title
	if title == "" {
		title = "Neuron Endpoint Benchmark Report"
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "**Generated**: %s\n\n", now().Format("2006-01-02 15:04:05 MST"))

	r.writeSummary(&sb)
	r.writeRecommendations(&sb)
	r.writeResultsTable(&sb)

	return sb.String()
}

// WriteTo writes the report to w
func (r *MarkdownReport) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, r.Generate())
	return int64(n), err
}

func (r *MarkdownReport) writeSummary(sb *strings.Builder) {
	sb.WriteString("## Summary\n\n")

	if len(r.Results) == 0 {
		sb.WriteString("No benchmark results available.\n\n")
		return
	}

	models := make(map[string]bool)
	instances := make(map[string]bool)
	for _, res := range r.Results {
		models[orUnknown(res.ModelID)] = true
		instances[orUnknown(res.InstanceType)] = true
	}

	fmt.Fprintf(sb, "- **Total Runs**: %d\n", len(r.Results))
	fmt.Fprintf(sb, "- **Models Tested**: %d\n", len(models))
	fmt.Fprintf(sb, "- **Instance Types Tested**: %d\n", len(instances))
	sb.WriteString("\n")
}

func (r *MarkdownReport) writeRecommendations(sb *strings.Builder) {
	sb.WriteString("## Recommendations\n\n")

	byModel := make(map[string][]*Result)
	for _, res := range r.Results {
		byModel[orUnknown(res.ModelID)] = append(byModel[orUnknown(res.ModelID)], res)
	}

	if len(byModel) == 0 {
		sb.WriteString("No benchmark results available for recommendations.\n\n")
		return
	}

	modelIDs := make([]string, 0, len(byModel))
	for id := range byModel {
		modelIDs = append(modelIDs, id)
	}
	sort.Strings(modelIDs)

	for _, modelID := range modelIDs {
		results := byModel[modelID]

		fmt.Fprintf(sb, "### %s\n\n", modelID)
		sb.WriteString("| Optimize For | Run | Instance | Users | Key Metric |\n")
		sb.WriteString("|--------------|-----|----------|-------|------------|\n")

		if best := findBest(results, "throughput"); best != nil {
			fmt.Fprintf(sb, "| Throughput | %s | %s | %d | %.1f tok/s |\n",
				best.RunName, orUnknown(best.InstanceType), best.Users, best.Summary.Throughput)
		}
		if best := findBest(results, "latency"); best != nil {
			fmt.Fprintf(sb, "| Latency | %s | %s | %d | %.3fs TTFT |\n",
				best.RunName, orUnknown(best.InstanceType), best.Users, best.Summary.TTFTSeconds)
		}
		if best := findBest(results, "requests"); best != nil {
			fmt.Fprintf(sb, "| Requests | %s | %s | %d | %.3f req/s |\n",
				best.RunName, orUnknown(best.InstanceType), best.Users, best.Summary.RequestsPerSecond)
		}

		sb.WriteString("\n")
	}
}

func (r *MarkdownReport) writeResultsTable(sb *strings.Builder) {
	sb.WriteString("## Full Results\n\n")

	if len(r.Results) == 0 {
		sb.WriteString("No results available.\n\n")
		return
	}

	sb.WriteString("| Run | Model | Instance | Users | Prompt Tokens | Generated Tokens | Req/s | TTFT | Throughput |\n")
	sb.WriteString("|-----|-------|----------|-------|---------------|------------------|-------|------|------------|\n")

	for _, res := range r.Results {
		s := res.Summary
		users := "-"
		if res.Users > 0 {
			users = fmt.Sprintf("%d", res.Users)
		}
		fmt.Fprintf(sb, "| %s | %s | %s | %s | %.1f | %.1f | %.3f | %.3fs | %.1f tok/s |\n",
			res.RunName, orUnknown(res.ModelID), orUnknown(res.InstanceType), users,
			s.PromptTokens, s.GeneratedTokens, s.RequestsPerSecond, s.TTFTSeconds, s.Throughput)
	}

	sb.WriteString("\n")
}

// findBest returns the best result for metric, or nil when no result has
// a usable value
func findBest(results []*Result, metric string) *Result {
	var best *Result
	for _, res := range results {
		s := res.Summary
		switch metric {
		case "throughput":
			if s.Throughput > 0 && (best == nil || s.Throughput > best.Summary.Throughput) {
				best = res
			}
		case "latency":
			if s.TTFTSeconds > 0 && (best == nil || s.TTFTSeconds < best.Summary.TTFTSeconds) {
				best = res
			}
		case "requests":
			if s.RequestsPerSecond > 0 && (best == nil || s.RequestsPerSecond > best.Summary.RequestsPerSecond) {
				best = res
			}
		}
	}
	return best
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
