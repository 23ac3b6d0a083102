// Package stream reassembles newline-delimited records from a chunked
// binary event stream, such as the response of a SageMaker
// InvokeEndpointWithResponseStream call or a raw HTTP event-stream body.
//
// Chunk boundaries carry no meaning: a single JSON frame may be split over
// several chunks and a single chunk may carry several frames. The
// LineReader buffers payload bytes and hands out complete lines only.
package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/logging"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/metrics"
)

// PayloadPart is the wrapper that carries raw payload bytes inside an event.
type PayloadPart struct {
	Bytes []byte
}

// Event is one unit delivered by a streaming transport.
// An event without a PayloadPart is not a payload event and is skipped.
type Event struct {
	Kind        string
	PayloadPart *PayloadPart
}

// Payload returns a payload event carrying b.
func Payload(b []byte) Event {
	return Event{Kind: "PayloadPart", PayloadPart: &PayloadPart{Bytes: b}}
}

// Source yields events in order. Next returns io.EOF once the source is
// exhausted; any other error is a transport failure.
type Source interface {
	Next(ctx context.Context) (Event, error)
}

// compactThreshold is the number of consumed bytes after which the buffer
// is shifted down to release them.
const compactThreshold = 64 * 1024

// LineReader produces complete lines from a Source.
// It is not safe for concurrent use.
type LineReader struct {
	src    Source
	logger *slog.Logger

	buf     []byte
	readPos int // never exceeds len(buf)

	done    bool
	skipped int
}

// Option configures a LineReader
type Option func(*LineReader)

// WithLogger sets the logger used for skipped-event diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(r *LineReader) {
		r.logger = logger
	}
}

// NewLineReader creates a reader over src.
func NewLineReader(src Source, opts ...Option) *LineReader {
	r := &LineReader{src: src}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next returns the next line without its trailing newline.
// It returns io.EOF when the source is exhausted and no complete line
// remains. A trailing fragment without a newline is never returned.
func (r *LineReader) Next(ctx context.Context) ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}

	rescanned := false
	for {
		if line, ok := r.scan(); ok {
			return line, nil
		}

		ev, err := r.src.Next(ctx)
		if errors.Is(err, io.EOF) {
			// Unread bytes get one more scan before the stream ends.
			if r.readPos < len(r.buf) && !rescanned {
				rescanned = true
				continue
			}
			r.done = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}

		if ev.PayloadPart == nil {
			r.skipped++
			metrics.RecordChunkSkipped(ev.Kind)
			r.warn(ctx, "unknown event type", slog.String("kind", ev.Kind))
			continue
		}

		r.append(ev.PayloadPart.Bytes)
	}
}

// Lines iterates over the remaining lines. Iteration stops at the end of
// the stream; a transport error is yielded once as the final element.
func (r *LineReader) Lines(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			line, err := r.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(line, err) || err != nil {
				return
			}
		}
	}
}

// Skipped returns how many events were dropped for lacking a payload.
func (r *LineReader) Skipped() int {
	return r.skipped
}

// Buffered returns the number of received bytes not yet returned as lines.
func (r *LineReader) Buffered() int {
	return len(r.buf) - r.readPos
}

func (r *LineReader) scan() ([]byte, bool) {
	idx := bytes.IndexByte(r.buf[r.readPos:], '\n')
	if idx < 0 {
		return nil, false
	}
	start := r.readPos
	r.readPos += idx + 1

	line := make([]byte, idx)
	copy(line, r.buf[start:start+idx])
	return line, true
}

func (r *LineReader) append(b []byte) {
	if r.readPos >= compactThreshold {
		n := copy(r.buf, r.buf[r.readPos:])
		r.buf = r.buf[:n]
		r.readPos = 0
	}
	r.buf = append(r.buf, b...)
	metrics.RecordStreamBytes(len(b))
}

func (r *LineReader) warn(ctx context.Context, msg string, args ...any) {
	if r.logger != nil {
		r.logger.WarnContext(ctx, msg, args...)
		return
	}
	logging.Warn(ctx, msg, args...)
}

// sliceSource replays a fixed list of events.
type sliceSource struct {
	events []Event
	pos    int
}

// SliceSource returns a Source that yields events in order, then io.EOF.
func SliceSource(events ...Event) Source {
	return &sliceSource{events: events}
}

func (s *sliceSource) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}
