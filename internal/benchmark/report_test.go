package benchmark

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func reportResults() []*Result {
	return []*Result{
		{
			RunName: "llama-u1", ModelID: "meta-llama/Llama-3.2-1B-Instruct", InstanceType: "ml.inf2.xlarge", Users: 1,
			Summary: Summary{RunName: "llama-u1", PromptTokens: 512, GeneratedTokens: 128, RequestsPerSecond: 0.25, TTFTSeconds: 0.12, Throughput: 31.5},
		},
		{
			RunName: "llama-u8", ModelID: "meta-llama/Llama-3.2-1B-Instruct", InstanceType: "ml.inf2.xlarge", Users: 8,
			Summary: Summary{RunName: "llama-u8", PromptTokens: 512, GeneratedTokens: 128, RequestsPerSecond: 1.5, TTFTSeconds: 0.48, Throughput: 190.2},
		},
		{
			RunName: "mistral-u4", InstanceType: "ml.inf2.8xlarge", Users: 4,
			Summary: Summary{RunName: "mistral-u4", PromptTokens: 256, GeneratedTokens: 64, RequestsPerSecond: 0.8, TTFTSeconds: 0.3, Throughput: 75},
		},
	}
}

func TestMarkdownReport_Generate(t *testing.T) {
	report := &MarkdownReport{
		Results: reportResults(),
		Now:     func() time.Time { return time.Date(2024, 11, 5, 13, 4, 9, 0, time.UTC) },
	}
	md := report.Generate()

	assert.True(t, strings.HasPrefix(md, "# Neuron Endpoint Benchmark Report\n\n**Generated**: 2024-11-05 13:04:09 UTC\n"))
	assert.Contains(t, md, "- **Total Runs**: 3\n")
	assert.Contains(t, md, "- **Models Tested**: 2\n")
	assert.Contains(t, md, "- **Instance Types Tested**: 2\n")

	assert.Contains(t, md, "### meta-llama/Llama-3.2-1B-Instruct\n")
	assert.Contains(t, md, "| Throughput | llama-u8 | ml.inf2.xlarge | 8 | 190.2 tok/s |\n")
	assert.Contains(t, md, "| Latency | llama-u1 | ml.inf2.xlarge | 1 | 0.120s TTFT |\n")
	assert.Contains(t, md, "| Requests | llama-u8 | ml.inf2.xlarge | 8 | 1.500 req/s |\n")
	assert.Contains(t, md, "### unknown\n")

	assert.Contains(t, md, "| mistral-u4 | unknown | ml.inf2.8xlarge | 4 | 256.0 | 64.0 | 0.800 | 0.300s | 75.0 tok/s |\n")
	assert.Less(t, strings.Index(md, "## Recommendations"), strings.Index(md, "## Full Results"))
}

func TestMarkdownReport_Empty(t *testing.T) {
	md := (&MarkdownReport{Title: "Empty"}).Generate()
	assert.Contains(t, md, "# Empty\n")
	assert.Contains(t, md, "No benchmark results available.\n")
	assert.Contains(t, md, "No results available.\n")
}

func TestFindBest_SkipsZeroValues(t *testing.T) {
	results := []*Result{{RunName: "a"}, {RunName: "b", Summary: Summary{TTFTSeconds: 0.2}}}
	assert.Nil(t, findBest(results, "throughput"))
	assert.Equal(t, "b", findBest(results, "latency").RunName)
}

func TestMarkdownReport_WriteTo(t *testing.T) {
	var sb strings.Builder
	report := &MarkdownReport{Results: reportResults()}
	n, err := report.WriteTo(&sb)
	assert.NoError(t, err)
	assert.Equal(t, int64(sb.Len()), n)
}
