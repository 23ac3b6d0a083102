package loadtest

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Event names fired for every request
const (
	EventTotalTime    = "total_time"
	EventEncodingTime = "encoding_time"
	EventDecodingTime = "decoding_time"
)

// RequestType is reported in the Type column of the stats CSV
const RequestType = "POST"

// Percentiles reported in the stats CSV
var Percentiles = []float64{0.50, 0.66, 0.75, 0.80, 0.90, 0.95, 0.98, 0.99, 0.999, 0.9999, 1.0}

// Entry accumulates the samples of one event name. Response times are in
// milliseconds; content size is a token count.
type Entry struct {
	Name              string
	NumRequests       int
	NumFailures       int
	TotalResponseTime float64
	MinResponseTime   float64
	MaxResponseTime   float64
	TotalContentSize  int64

	// rounded response time -> request count
	responseTimes map[int64]int

	StartTime       time.Time
	LastRequestTime time.Time
}

func newEntry(name string, start time.Time) *Entry {
	return &Entry{
		Name:          name,
		responseTimes: make(map[int64]int),
		StartTime:     start,
	}
}

func (e *Entry) log(responseTime float64, contentSize int, failed bool, at time.Time) {
	if e.NumRequests == 0 || responseTime < e.MinResponseTime {
		e.MinResponseTime = responseTime
	}
	if responseTime > e.MaxResponseTime {
		e.MaxResponseTime = responseTime
	}
	e.NumRequests++
	if failed {
		e.NumFailures++
	}
	e.TotalResponseTime += responseTime
	e.TotalContentSize += int64(contentSize)
	e.responseTimes[roundResponseTime(responseTime)]++
	e.LastRequestTime = at
}

func (e *Entry) merge(o *Entry) {
	if o.NumRequests == 0 {
		return
	}
	if e.NumRequests == 0 || o.MinResponseTime < e.MinResponseTime {
		e.MinResponseTime = o.MinResponseTime
	}
	if o.MaxResponseTime > e.MaxResponseTime {
		e.MaxResponseTime = o.MaxResponseTime
	}
	if o.StartTime.Before(e.StartTime) {
		e.StartTime = o.StartTime
	}
	if o.LastRequestTime.After(e.LastRequestTime) {
		e.LastRequestTime = o.LastRequestTime
	}
	e.NumRequests += o.NumRequests
	e.NumFailures += o.NumFailures
	e.TotalResponseTime += o.TotalResponseTime
	e.TotalContentSize += o.TotalContentSize
	for k, v := range o.responseTimes {
		e.responseTimes[k] += v
	}
}

// AverageResponseTime is the mean response time in milliseconds
func (e *Entry) AverageResponseTime() float64 {
	if e.NumRequests == 0 {
		return 0
	}
	return e.TotalResponseTime / float64(e.NumRequests)
}

// AverageContentSize is the mean content size
func (e *Entry) AverageContentSize() float64 {
	if e.NumRequests == 0 {
		return 0
	}
	return float64(e.TotalContentSize) / float64(e.NumRequests)
}

// MedianResponseTime is the rounded median response time, clamped to the
// exact min and max response times
func (e *Entry) MedianResponseTime() float64 {
	if e.NumRequests == 0 {
		return 0
	}
	keys := e.sortedKeys()
	half := (e.NumRequests - 1) / 2
	pos := 0
	median := float64(0)
	for _, k := range keys {
		pos += e.responseTimes[k]
		if pos > half {
			median = float64(k)
			break
		}
	}
	return math.Min(math.Max(median, e.MinResponseTime), e.MaxResponseTime)
}

func (e *Entry) sortedKeys() []int64 {
	keys := make([]int64, 0, len(e.responseTimes))
	for k := range e.responseTimes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Percentile returns the rounded response time below which the given
// fraction of requests fall
func (e *Entry) Percentile(p float64) int64 {
	if e.NumRequests == 0 {
		return 0
	}
	keys := e.sortedKeys()
	target := int(float64(e.NumRequests) * p)
	processed := 0
	for i := len(keys) - 1; i >= 0; i-- {
		k := keys[i]
		processed += e.responseTimes[k]
		if e.NumRequests-processed <= target {
			return k
		}
	}
	return 0
}

// RequestsPerSecond is the request rate over the entry's active window
func (e *Entry) RequestsPerSecond() float64 {
	return perSecond(e.NumRequests, e.StartTime, e.LastRequestTime)
}

// FailuresPerSecond is the failure rate over the entry's active window
func (e *Entry) FailuresPerSecond() float64 {
	return perSecond(e.NumFailures, e.StartTime, e.LastRequestTime)
}

func perSecond(n int, start, last time.Time) float64 {
	if n == 0 || last.IsZero() {
		return 0
	}
	secs := last.Sub(start).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(n) / secs
}

// roundResponseTime buckets response times: exact below 100ms, then to
// two significant digits up to 10s, then to the nearest second.
func roundResponseTime(ms float64) int64 {
	switch {
	case ms < 100:
		return int64(math.Round(ms))
	case ms < 1000:
		return int64(math.Round(ms/10) * 10)
	case ms < 10000:
		return int64(math.Round(ms/100) * 100)
	default:
		return int64(math.Round(ms/1000) * 1000)
	}
}

// Stats collects request events from all users. It is safe for concurrent use.
type Stats struct {
	mu      sync.Mutex
	start   time.Time
	now     func() time.Time
	entries map[string]*Entry
	order   []string
	errors  map[string]int
}

// NewStats creates an empty collector started now
func NewStats() *Stats {
	return newStatsWithClock(time.Now)
}

func newStatsWithClock(now func() time.Time) *Stats {
	return &Stats{
		start:   now(),
		now:     now,
		entries: make(map[string]*Entry),
		errors:  make(map[string]int),
	}
}

// Record logs one event; err marks it as a failure
func (s *Stats) Record(name string, responseTime time.Duration, contentSize int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		e = newEntry(name, s.start)
		s.entries[name] = e
		s.order = append(s.order, name)
	}
	ms := float64(responseTime.Microseconds()) / 1000
	e.log(ms, contentSize, err != nil, s.now())
	if err != nil {
		s.errors[name+": "+err.Error()]++
	}
}

// Entry returns a copy of the named entry
func (s *Stats) Entry(name string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Entries returns copies of all entries sorted by name
func (s *Stats) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := append([]string(nil), s.order...)
	sort.Strings(names)
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		out = append(out, s.entries[name].clone())
	}
	return out
}

// Aggregated merges every entry into one
func (s *Stats) Aggregated() Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := newEntry("Aggregated", s.start)
	for _, name := range s.order {
		total.merge(s.entries[name])
	}
	return *total
}

// Errors returns failure messages with their occurrence counts
func (s *Stats) Errors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errors))
	for k, v := range s.errors {
		out[k] = v
	}
	return out
}

func (e *Entry) clone() Entry {
	c := *e
	c.responseTimes = make(map[int64]int, len(e.responseTimes))
	for k, v := range e.responseTimes {
		c.responseTimes[k] = v
	}
	return c
}
