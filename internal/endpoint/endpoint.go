// Package endpoint speaks the text-generation protocols served by Neuron
// inference containers: TGI generate / generate_stream and the OpenAI
// compatible chat completions API. Streams are reassembled into lines by
// internal/stream regardless of whether they arrive over SageMaker event
// streams or plain HTTP.
package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/stream"
)

// Streamer sends a request body and returns the response as a chunk source.
// The returned closer releases the underlying connection.
type Streamer interface {
	Stream(ctx context.Context, body []byte) (stream.Source, io.Closer, error)
}

// Invoker sends a request body and returns the complete response body
type Invoker interface {
	Invoke(ctx context.Context, body []byte) ([]byte, error)
}

// Client is implemented by both SageMaker endpoints and plain HTTP servers
type Client interface {
	Streamer
	Invoker
	Name() string
}

// frameFunc handles one data frame; returning stop=true ends the stream early
type frameFunc func(frame stream.Frame) (stop bool, err error)

// consume opens a stream for body and feeds each data frame to fn.
// Lines that are not data frames (blank separators, comments) are ignored.
func consume(ctx context.Context, s Streamer, body []byte, fn frameFunc) error {
	src, closer, err := s.Stream(ctx, body)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	lr := stream.NewLineReader(src)
	for line, err := range lr.Lines(ctx) {
		if err != nil {
			return err
		}
		frame, ok := stream.ParseDataFrame(line)
		if !ok {
			continue
		}
		stop, err := fn(frame)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

func marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return b, nil
}
