package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/stream"
)

// ChatMessage is one message of a chat conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamOptions controls what the server adds to a stream
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatRequest is the body of /v1/chat/completions
type ChatRequest struct {
	Model             string         `json:"model,omitempty"`
	Messages          []ChatMessage  `json:"messages"`
	RepetitionPenalty float64        `json:"repetition_penalty"`
	Temperature       float64        `json:"temperature"`
	MaxTokens         int            `json:"max_tokens"`
	Stream            bool           `json:"stream"`
	StreamOptions     *StreamOptions `json:"stream_options,omitempty"`
}

// NewChatRequest builds a streaming request with a system and a user message
// that asks the server to report token usage.
func NewChatRequest(system, prompt string, maxTokens int) ChatRequest {
	var messages []ChatMessage
	if system != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: system})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: prompt})
	return ChatRequest{
		Messages:          messages,
		RepetitionPenalty: 1.0,
		Temperature:       0.5,
		MaxTokens:         maxTokens,
		Stream:            true,
		StreamOptions:     &StreamOptions{IncludeUsage: true},
	}
}

// Usage reports token counts
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatDelta is the incremental content of a streamed choice
type ChatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// ChatChoice is one streamed choice
type ChatChoice struct {
	Index        int       `json:"index"`
	Delta        ChatDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

// ChatChunk is one data frame of a streamed chat completion
type ChatChunk struct {
	ID      string       `json:"id,omitempty"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// ChatResult summarizes a streamed chat completion
type ChatResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int

	// FirstToken is set once a chunk with choices arrived; TTFT is only
	// meaningful when it is true.
	FirstToken bool
	TTFT       time.Duration
	Total      time.Duration
}

// DecodeTime is the time spent after the first token
func (r *ChatResult) DecodeTime() time.Duration {
	return r.Total - r.TTFT
}

// StreamChat streams a chat completion until "[DONE]" or the end of the
// stream. The result is always returned, partially filled on error.
func StreamChat(ctx context.Context, s Streamer, req ChatRequest) (*ChatResult, error) {
	req.Stream = true
	result := &ChatResult{}
	body, err := marshal(req)
	if err != nil {
		return result, err
	}

	start := time.Now()
	var content strings.Builder

	err = consume(ctx, s, body, func(frame stream.Frame) (bool, error) {
		if frame.Done {
			return true, nil
		}
		var chunk ChatChunk
		if err := json.Unmarshal(frame.Data, &chunk); err != nil {
			return false, fmt.Errorf("invalid stream frame %q: %w", truncate(frame.Data), err)
		}
		switch {
		case len(chunk.Choices) > 0:
			content.WriteString(chunk.Choices[0].Delta.Content)
			if !result.FirstToken {
				result.FirstToken = true
				result.TTFT = time.Since(start)
			}
		case chunk.Usage != nil:
			result.PromptTokens = chunk.Usage.PromptTokens
			result.CompletionTokens = chunk.Usage.CompletionTokens
		}
		return false, nil
	})

	result.Content = content.String()
	result.Total = time.Since(start)
	return result, err
}
