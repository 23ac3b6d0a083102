package mockendpoint

import (
	"strings"
	"sync"
	"time"
)

const defaultText = "Forsooth, good sir, deep learning be a craft of many layered " +
	"reckonings, whereby a machine doth learn from a great multitude of examples " +
	"as a squire learneth from his knight."

// State holds the configurable behavior of the mock server
type State struct {
	mu sync.RWMutex

	tokenDelay   time.Duration
	fragmentSize int
	failStatus   int
	failMessage  string
	words        []string

	requests map[string]int
}

// NewState creates state with immediate tokens and 7-byte write fragments
func NewState() *State {
	s := &State{}
	s.Reset()
	return s
}

// Reset restores the default behavior and clears request counters
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenDelay = 0
	s.fragmentSize = 7
	s.failStatus = 0
	s.failMessage = ""
	s.words = strings.Fields(defaultText)
	s.requests = make(map[string]int)
}

// SetTokenDelay sets the pause between generated tokens
func (s *State) SetTokenDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenDelay = d
}

// SetFragmentSize sets the number of bytes per write; zero writes whole frames
func (s *State) SetFragmentSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragmentSize = n
}

// SetFailure makes every generation request fail with status; zero disables it
func (s *State) SetFailure(status int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
	s.failMessage = msg
}

// SetText replaces the text the mock model generates
func (s *State) SetText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.words = strings.Fields(text)
}

// Requests returns the number of requests served on path
func (s *State) Requests(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests[path]
}

func (s *State) record(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[path]++
}

func (s *State) failure() (int, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failStatus, s.failMessage
}

func (s *State) delay() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenDelay
}

func (s *State) fragment() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fragmentSize
}

// Tokens returns the first n generated tokens. Words after the first carry
// a leading space the way tokenizer pieces do; the text repeats when n
// exceeds its length.
func (s *State) Tokens(n int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || len(s.words) == 0 {
		return nil
	}
	tokens := make([]string, n)
	for i := range tokens {
		w := s.words[i%len(s.words)]
		if i > 0 {
			w = " " + w
		}
		tokens[i] = w
	}
	return tokens
}

// CountTokens approximates the prompt token count by whitespace fields
func CountTokens(texts ...string) int {
	n := 0
	for _, t := range texts {
		n += len(strings.Fields(t))
	}
	return n
}
