// Package benchmark summarizes load test statistics and records the results.
// Summaries are computed from Locust-compatible stats CSV files so results of
// runs made with other tools can be compared with native ones.
package benchmark

import (
	"time"
)

// Summary is one row of the benchmark summary.
type Summary struct {
	RunName string `json:"run_name"`

	// Average tokens per request
	PromptTokens    float64 `json:"prompt_tokens"`
	GeneratedTokens float64 `json:"generated_tokens"`

	// Derived throughput figures
	RequestsPerSecond float64 `json:"requests_per_second"`
	TTFTSeconds       float64 `json:"ttft_seconds"`
	Throughput        float64 `json:"output_tokens_per_second"`
}

// Result is a summary recorded against the endpoint it was measured on.
type Result struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	RunName      string `json:"run_name"`
	Endpoint     string `json:"endpoint,omitempty"`
	InstanceType string `json:"instance_type,omitempty"`
	ModelID      string `json:"model_id,omitempty"`
	Users        int    `json:"users,omitempty"`

	Summary Summary `json:"summary"`

	// Stats file the summary was computed from
	Source string `json:"source,omitempty"`
}
