package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/stream"
)

// TGIParameters are the generation parameters of a TGI request
type TGIParameters struct {
	DoSample          bool    `json:"do_sample"`
	TopP              float64 `json:"top_p"`
	Temperature       float64 `json:"temperature"`
	MaxNewTokens      int     `json:"max_new_tokens"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

// DefaultTGIParameters returns the sampling parameters used for smoke tests
func DefaultTGIParameters() TGIParameters {
	return TGIParameters{
		DoSample:          true,
		TopP:              0.9,
		Temperature:       0.8,
		MaxNewTokens:      64,
		RepetitionPenalty: 1.03,
	}
}

// TGIRequest is the body of /generate and /generate_stream
type TGIRequest struct {
	Inputs     string        `json:"inputs"`
	Parameters TGIParameters `json:"parameters"`
	Stream     bool          `json:"stream"`
}

// NewTGIRequest builds a request for prompt with default parameters
func NewTGIRequest(prompt string, stream bool) TGIRequest {
	return TGIRequest{
		Inputs:     prompt,
		Parameters: DefaultTGIParameters(),
		Stream:     stream,
	}
}

// TGIToken is one generated token
type TGIToken struct {
	ID      int     `json:"id"`
	Text    string  `json:"text"`
	LogProb float64 `json:"logprob"`
	Special bool    `json:"special"`
}

// TGIStreamResponse is one data frame of /generate_stream
type TGIStreamResponse struct {
	Token         TGIToken `json:"token"`
	GeneratedText *string  `json:"generated_text"`
	Error         string   `json:"error,omitempty"`
	ErrorType     string   `json:"error_type,omitempty"`
}

// TGIGenerateResponse is the body of /generate
type TGIGenerateResponse struct {
	GeneratedText string `json:"generated_text"`
}

// TGIResult summarizes a streamed generation
type TGIResult struct {
	Text   string
	Tokens int
	TTFT   time.Duration
	Total  time.Duration
}

// ErrGenerationFailed is returned when the server reports an error frame
var ErrGenerationFailed = errors.New("generation failed")

// StreamTGI streams a TGI generation. Non-special token texts are
// accumulated and onText, if set, receives the running output after each
// token.
func StreamTGI(ctx context.Context, s Streamer, req TGIRequest, onText func(output string)) (*TGIResult, error) {
	req.Stream = true
	body, err := marshal(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &TGIResult{}
	var out strings.Builder

	err = consume(ctx, s, body, func(frame stream.Frame) (bool, error) {
		if frame.Done {
			return true, nil
		}
		var chunk TGIStreamResponse
		if err := json.Unmarshal(frame.Data, &chunk); err != nil {
			return false, fmt.Errorf("invalid stream frame %q: %w", truncate(frame.Data), err)
		}
		if chunk.Error != "" {
			return false, fmt.Errorf("%w: %s: %s", ErrGenerationFailed, chunk.ErrorType, chunk.Error)
		}
		if chunk.Token.Special {
			return false, nil
		}
		if result.Tokens == 0 {
			result.TTFT = time.Since(start)
		}
		result.Tokens++
		out.WriteString(chunk.Token.Text)
		if onText != nil {
			onText(out.String())
		}
		return false, nil
	})

	result.Text = out.String()
	result.Total = time.Since(start)
	return result, err
}

// InvokeTGI runs a non-streaming generation. SageMaker containers answer
// with a single-element array while a bare TGI server answers with an
// object; both are accepted.
func InvokeTGI(ctx context.Context, inv Invoker, req TGIRequest) (string, error) {
	req.Stream = false
	body, err := marshal(req)
	if err != nil {
		return "", err
	}

	raw, err := inv.Invoke(ctx, body)
	if err != nil {
		return "", err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var list []TGIGenerateResponse
		if err := json.Unmarshal(raw, &list); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		if len(list) == 0 {
			return "", fmt.Errorf("empty generation response")
		}
		return list[0].GeneratedText, nil
	}

	var resp TGIGenerateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.GeneratedText, nil
}

func truncate(b []byte) string {
	const max = 120
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
