package stream

import (
	"context"
	"io"
)

// DefaultChunkSize is the read size used by ReaderSource when none is given.
const DefaultChunkSize = 4096

// maxConsecutiveEmptyReads bounds (0, nil) reads before Next gives up
// with io.ErrNoProgress.
const maxConsecutiveEmptyReads = 100

// ReaderSource turns an io.Reader (typically an HTTP response body) into a
// Source where every successful Read becomes one payload event.
type ReaderSource struct {
	r       io.Reader
	buf     []byte
	pending error
}

// NewReaderSource wraps r. A non-positive chunkSize selects DefaultChunkSize.
func NewReaderSource(r io.Reader, chunkSize int) *ReaderSource {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ReaderSource{r: r, buf: make([]byte, chunkSize)}
}

// Next reads the next chunk. Cancellation is only observed between reads;
// a blocked Read returns when the underlying transport does.
func (s *ReaderSource) Next(ctx context.Context) (Event, error) {
	for empty := 0; ; empty++ {
		if s.pending != nil {
			return Event{}, s.pending
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		if empty == maxConsecutiveEmptyReads {
			s.pending = io.ErrNoProgress
			continue
		}

		n, err := s.r.Read(s.buf)
		if err != nil {
			s.pending = err
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			return Payload(chunk), nil
		}
	}
}
