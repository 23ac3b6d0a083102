package cmd

// The CLI uses package-level variables for cobra flags, so tests that run
// commands hold testMu and reset every flag to its default first. They
// cannot use t.Parallel().

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/benchmark"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/test/mockendpoint"
)

// testMu protects global state during tests that cannot run in parallel.
var testMu sync.Mutex

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

type cliResult struct {
	stdout string
	stderr string
	err    error
}

// runCLI executes neuronctl with args against a temporary results database
func runCLI(t *testing.T, dbPath string, args ...string) cliResult {
	t.Helper()

	testMu.Lock()
	defer testMu.Unlock()

	t.Setenv("NEURONCTL_DB", dbPath)
	t.Setenv("NEURONCTL_METRICS_ADDR", "")
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func newMockEndpoint(t *testing.T, text string) (*httptest.Server, *mockendpoint.State) {
	t.Helper()
	state := mockendpoint.NewState()
	state.SetText(text)
	srv := httptest.NewServer(mockendpoint.NewServer(state))
	t.Cleanup(srv.Close)
	return srv, state
}

func TestDeploy_DryRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")
	res := runCLI(t, db, "deploy",
		"--image", "0.0.27",
		"--model-id", "meta-llama/Llama-3.2-1B-Instruct",
		"--instance-type", "ml.inf2.xlarge",
		"--sequence-length", "4096",
		"--region", "us-east-1",
		"--token", "hf_secret",
		"--dry-run")
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "huggingface-pytorch-tgi-inference:2.1.2-optimum0.0.27-neuronx-py310-ubuntu22.04")
	assert.Contains(t, res.stdout, "Server:         tgi")
	assert.Contains(t, res.stdout, "MAX_INPUT_LENGTH=2048")
	assert.Contains(t, res.stdout, "HUGGING_FACE_HUB_TOKEN=****")
	assert.NotContains(t, res.stdout, "hf_secret")
}

func TestDeploy_DryRunJSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")
	res := runCLI(t, db, "deploy", "-o", "json",
		"--image", "123456789012.dkr.ecr.us-west-2.amazonaws.com/sagemaker-vllm-neuronx:latest",
		"--model-id", "meta-llama/Llama-3.2-1B-Instruct",
		"--instance-type", "ml.inf2.8xlarge",
		"--sequence-length", "2048",
		"--batch-size", "4",
		"--dry-run")
	require.NoError(t, res.err)

	var plan deployPlan
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &plan))
	assert.Equal(t, "vllm", string(plan.Server))
	assert.Equal(t, "4", plan.Env["SM_VLLM_MAX_NUM_SEQS"])
	assert.Equal(t, "2048", plan.Env["SM_VLLM_MAX_MODEL_LEN"])
}

func TestDeploy_InvalidOptions(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")
	res := runCLI(t, db, "deploy",
		"--image", "0.0.27",
		"--model-id", "meta-llama/Llama-3.2-1B-Instruct",
		"--instance-type", "ml.inf2.xlarge",
		"--dry-run")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "SequenceLength")
}

func TestDeploy_RequiredFlags(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")
	res := runCLI(t, db, "deploy", "--dry-run")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "required flag")
}

func TestInvoke_URLStream(t *testing.T) {
	srv, state := newMockEndpoint(t, "Deep learning rocks")
	db := filepath.Join(t.TempDir(), "test.db")

	res := runCLI(t, db, "invoke", "--url", srv.URL, "--stream", "--max-new-tokens", "3")
	require.NoError(t, res.err)
	assert.Equal(t, "Deep learning rocks\n", res.stdout)
	assert.Equal(t, 1, state.Requests("/generate_stream"))
}

func TestInvoke_URLSync(t *testing.T) {
	srv, state := newMockEndpoint(t, "Deep learning rocks")
	db := filepath.Join(t.TempDir(), "test.db")

	res := runCLI(t, db, "invoke", "--url", srv.URL, "--max-new-tokens", "2")
	require.NoError(t, res.err)
	assert.Equal(t, "Deep learning\n", res.stdout)
	assert.Equal(t, 1, state.Requests("/generate"))
}

func TestInvoke_URLChat(t *testing.T) {
	srv, _ := newMockEndpoint(t, "Hail good sir")
	db := filepath.Join(t.TempDir(), "test.db")

	res := runCLI(t, db, "invoke", "--url", srv.URL, "--chat", "--max-new-tokens", "3")
	require.NoError(t, res.err)
	assert.Equal(t, "Hail good sir\n", res.stdout)
}

func TestInvoke_RequiresTarget(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")
	res := runCLI(t, db, "invoke")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "--url")
}

func TestLoadTestSummarizeAndResults(t *testing.T) {
	srv, state := newMockEndpoint(t, "Hail good sir")
	dir := t.TempDir()
	db := filepath.Join(dir, "results.db")

	prompt := filepath.Join(dir, "prompt.txt")
	require.NoError(t, os.WriteFile(prompt, []byte("Alice was beginning to get very tired\nof sitting by her sister on the bank\n"), 0644))

	res := runCLI(t, db, "loadtest",
		"--url", srv.URL,
		"--users", "2",
		"--spawn-rate", "100",
		"--run-time", "300ms",
		"--prompt-file", prompt,
		"--output-tokens", "8",
		"--seed", "7",
		"--csv", filepath.Join(dir, "mock-u2.csv"))
	require.NoError(t, res.err)
	assert.Greater(t, state.Requests("/v1/chat/completions"), 0)
	assert.Contains(t, res.stdout, "total_time")
	assert.Contains(t, res.stdout, "Aggregated")

	statsFile := filepath.Join(dir, "mock-u2.csv_stats.csv")
	require.FileExists(t, statsFile)

	summaryFile := filepath.Join(dir, "summary.csv")
	res = runCLI(t, db, "summarize", dir,
		"--summary-file", summaryFile,
		"--record",
		"--model-id", "mock-model",
		"--users", "2")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "mock-u2")

	data, err := os.ReadFile(summaryFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "mock-u2,"))

	res = runCLI(t, db, "results", "list", "-o", "json")
	require.NoError(t, res.err)
	var results []*benchmark.Result
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "mock-u2", results[0].RunName)
	assert.Equal(t, "mock-model", results[0].ModelID)
	assert.Greater(t, results[0].Summary.Throughput, 0.0)

	res = runCLI(t, db, "results", "best", "--model", "mock-model")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "mock-u2")

	reportFile := filepath.Join(dir, "report.md")
	res = runCLI(t, db, "results", "report", "--model", "mock-model", "--file", reportFile)
	require.NoError(t, res.err)
	report, err := os.ReadFile(reportFile)
	require.NoError(t, err)
	assert.Contains(t, string(report), "# Benchmark Report: mock-model")
	assert.Contains(t, string(report), "| Throughput | mock-u2 |")
}

func TestSummarize_NoFiles(t *testing.T) {
	dir := t.TempDir()
	summaryFile := filepath.Join(dir, "s.csv")
	res := runCLI(t, filepath.Join(dir, "test.db"), "summarize", dir, "--summary-file", summaryFile)
	require.NoError(t, res.err)

	data, err := os.ReadFile(summaryFile)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(benchmark.SummaryHeader, ",")+"\n", string(data))

	res = runCLI(t, filepath.Join(dir, "test.db"), "results", "list")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "No benchmark results found.")
}

func TestResultsBest_Empty(t *testing.T) {
	res := runCLI(t, filepath.Join(t.TempDir(), "test.db"), "results", "best")
	assert.ErrorIs(t, res.err, benchmark.ErrNotFound)
}

func TestDeployments_Empty(t *testing.T) {
	res := runCLI(t, filepath.Join(t.TempDir(), "test.db"), "deployments")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "No deployments found.")
}

func TestConfigShow_RedactsToken(t *testing.T) {
	t.Setenv("HF_TOKEN", "hf_secret")
	res := runCLI(t, filepath.Join(t.TempDir(), "test.db"), "config", "show")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "HF token:             ****")
	assert.NotContains(t, res.stdout, "hf_secret")
}

func TestUnknownOutputFormat(t *testing.T) {
	res := runCLI(t, filepath.Join(t.TempDir(), "test.db"), "config", "show", "-o", "yaml")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "unknown output format")
}

func TestCSVPrefix(t *testing.T) {
	testMu.Lock()
	defer testMu.Unlock()

	ltCSVPrefix = ""
	assert.Equal(t, "loadtest-u4.csv", csvPrefix(nil, 4))
	assert.Equal(t, "llama-endpoint-u8.csv", csvPrefix([]string{"llama_endpoint"}, 8))
}

func TestFirstHelpers(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty())
	assert.Equal(t, 3, firstPositive(0, -1, 3))
	assert.Equal(t, 0, firstPositive())
}

func TestDeploymentsSync_Empty(t *testing.T) {
	res := runCLI(t, filepath.Join(t.TempDir(), "test.db"), "deployments", "sync", "-o", "json")
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"checked":0,"inservice":0,"failed":0,"gone":0,"errors":0}`, res.stdout)
}
