package stream

import (
	"bytes"
)

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// Frame is the payload of one server-sent-events style "data:" line.
type Frame struct {
	Data []byte
	Done bool // the "[DONE]" end-of-stream marker
}

// ParseDataFrame extracts the payload of a "data:" line.
// Lines that are not data lines (blank keep-alives, "event:", comments)
// report false.
func ParseDataFrame(line []byte) (Frame, bool) {
	if !bytes.HasPrefix(line, dataPrefix) {
		return Frame{}, false
	}
	data := bytes.TrimSpace(line[len(dataPrefix):])
	if bytes.Equal(data, doneMarker) {
		return Frame{Done: true}, true
	}
	return Frame{Data: data}, true
}
