package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/metrics"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/stream"
)

// Server paths
const (
	TGIGeneratePath       = "/generate"
	TGIGenerateStreamPath = "/generate_stream"
	ChatCompletionsPath   = "/v1/chat/completions"
	HealthPath            = "/health"
)

const defaultTimeout = 2 * time.Minute

// HTTPError is returned for non-2xx responses
type HTTPError struct {
	URL        string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("POST %s failed (HTTP %d): %s", e.URL, e.StatusCode, e.Message)
}

// HTTPSource turns an HTTP response body into a chunk source. Every Read
// on the body becomes one payload event, so chunk boundaries follow the
// server's writes the way SageMaker PayloadPart boundaries do.
type HTTPSource struct {
	*stream.ReaderSource
	body io.ReadCloser
}

// NewHTTPSource wraps body
func NewHTTPSource(body io.ReadCloser) *HTTPSource {
	return &HTTPSource{
		ReaderSource: stream.NewReaderSource(body, stream.DefaultChunkSize),
		body:         body,
	}
}

// Close closes the response body
func (s *HTTPSource) Close() error {
	return s.body.Close()
}

// HTTPClient talks to a TGI or OpenAI compatible server directly
type HTTPClient struct {
	baseURL    string
	streamPath string
	invokePath string
	httpClient *http.Client
}

// HTTPOption configures the HTTP client
type HTTPOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-request timeout, including reading the stream
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

// WithStreamPath sets the path used for streaming requests
func WithStreamPath(path string) HTTPOption {
	return func(c *HTTPClient) {
		c.streamPath = path
	}
}

// WithInvokePath sets the path used for non-streaming requests
func WithInvokePath(path string) HTTPOption {
	return func(c *HTTPClient) {
		c.invokePath = path
	}
}

// WithChatCompletions routes both streaming and non-streaming requests to
// the chat completions API
func WithChatCompletions() HTTPOption {
	return func(c *HTTPClient) {
		c.streamPath = ChatCompletionsPath
		c.invokePath = ChatCompletionsPath
	}
}

// NewHTTPClient creates a client for baseURL. Requests default to the TGI paths.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		streamPath: TGIGenerateStreamPath,
		invokePath: TGIGeneratePath,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the base URL
func (c *HTTPClient) Name() string {
	return c.baseURL
}

// Invoke posts body and returns the whole response
func (c *HTTPClient) Invoke(ctx context.Context, body []byte) ([]byte, error) {
	resp, err := c.post(ctx, c.invokePath, body, "application/json")
	if err != nil {
		metrics.RecordInvocation("sync", "error")
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordInvocation("sync", "error")
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	metrics.RecordInvocation("sync", "success")
	return out, nil
}

// Stream posts body and returns the response body as a chunk source
func (c *HTTPClient) Stream(ctx context.Context, body []byte) (stream.Source, io.Closer, error) {
	resp, err := c.post(ctx, c.streamPath, body, "text/event-stream")
	if err != nil {
		metrics.RecordInvocation("stream", "error")
		return nil, nil, err
	}
	metrics.RecordInvocation("stream", "success")
	src := NewHTTPSource(resp.Body)
	return src, src, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte, accept string) (*http.Response, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{URL: url, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}
