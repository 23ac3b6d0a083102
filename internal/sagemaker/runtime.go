package sagemaker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/metrics"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/stream"
)

const contentTypeJSON = "application/json"

// RuntimeAPI is the subset of the SageMaker runtime client in use.
// *sagemakerruntime.SageMakerRuntime satisfies it.
type RuntimeAPI interface {
	InvokeEndpointWithContext(ctx aws.Context, input *sagemakerruntime.InvokeEndpointInput, opts ...request.Option) (*sagemakerruntime.InvokeEndpointOutput, error)
	InvokeEndpointWithResponseStreamWithContext(ctx aws.Context, input *sagemakerruntime.InvokeEndpointWithResponseStreamInput, opts ...request.Option) (*sagemakerruntime.InvokeEndpointWithResponseStreamOutput, error)
}

// Runtime invokes deployed endpoints
type Runtime struct {
	api RuntimeAPI
}

// NewRuntime creates a runtime client
func NewRuntime(api RuntimeAPI) *Runtime {
	return &Runtime{api: api}
}

// Invoke sends a JSON body and returns the full response body
func (r *Runtime) Invoke(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	out, err := r.api.InvokeEndpointWithContext(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(endpoint),
		Body:         body,
		ContentType:  aws.String(contentTypeJSON),
	})
	if err != nil {
		metrics.RecordInvocation("sync", "error")
		return nil, wrapError(endpoint, "InvokeEndpoint", err)
	}
	metrics.RecordInvocation("sync", "success")
	return out.Body, nil
}

// InvokeStream sends a JSON body and returns the response event stream.
// The caller must Close the returned source.
func (r *Runtime) InvokeStream(ctx context.Context, endpoint string, body []byte) (*StreamSource, error) {
	out, err := r.api.InvokeEndpointWithResponseStreamWithContext(ctx, &sagemakerruntime.InvokeEndpointWithResponseStreamInput{
		EndpointName: aws.String(endpoint),
		Body:         body,
		ContentType:  aws.String(contentTypeJSON),
	})
	if err != nil {
		metrics.RecordInvocation("stream", "error")
		return nil, wrapError(endpoint, "InvokeEndpointWithResponseStream", err)
	}
	metrics.RecordInvocation("stream", "success")

	es := out.GetStream()
	return newStreamSource(endpoint, es.Events(), es.Err, es), nil
}

// Endpoint binds the runtime to one endpoint name
func (r *Runtime) Endpoint(name string) *EndpointClient {
	return &EndpointClient{runtime: r, name: name}
}

// EndpointClient invokes a single named endpoint
type EndpointClient struct {
	runtime *Runtime
	name    string
}

// Name returns the endpoint name
func (c *EndpointClient) Name() string {
	return c.name
}

// Invoke sends a non-streaming request
func (c *EndpointClient) Invoke(ctx context.Context, body []byte) ([]byte, error) {
	return c.runtime.Invoke(ctx, c.name, body)
}

// Stream sends a streaming request
func (c *EndpointClient) Stream(ctx context.Context, body []byte) (stream.Source, io.Closer, error) {
	src, err := c.runtime.InvokeStream(ctx, c.name, body)
	if err != nil {
		return nil, nil, err
	}
	return src, src, nil
}

// StreamSource adapts a SageMaker response event stream to stream.Source.
// PayloadPart events carry bytes; any other event kind is passed through
// without a payload so the line reader skips it.
type StreamSource struct {
	endpoint string
	events   <-chan sagemakerruntime.ResponseStreamEvent
	errFn    func() error
	closer   io.Closer
}

func newStreamSource(endpoint string, events <-chan sagemakerruntime.ResponseStreamEvent, errFn func() error, closer io.Closer) *StreamSource {
	return &StreamSource{
		endpoint: endpoint,
		events:   events,
		errFn:    errFn,
		closer:   closer,
	}
}

// Next blocks until the next event, the end of the stream, or ctx is done
func (s *StreamSource) Next(ctx context.Context) (stream.Event, error) {
	select {
	case <-ctx.Done():
		return stream.Event{}, ctx.Err()
	case ev, ok := <-s.events:
		if !ok {
			// Model and stream failures are only reported once the channel closes
			if err := s.errFn(); err != nil {
				return stream.Event{}, wrapError(s.endpoint, "ResponseStream", err)
			}
			return stream.Event{}, io.EOF
		}
		if part, isPayload := ev.(*sagemakerruntime.PayloadPart); isPayload && part != nil {
			return stream.Payload(part.Bytes), nil
		}
		return stream.Event{Kind: eventKind(ev)}, nil
	}
}

// Close releases the underlying HTTP stream
func (s *StreamSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func eventKind(ev any) string {
	if ev == nil {
		return "unknown"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", ev), "*sagemakerruntime.")
}
