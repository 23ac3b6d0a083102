package sagemaker

import "time"

const (
	// DefaultPollInterval is the initial interval between status checks
	DefaultPollInterval = 15 * time.Second

	// DefaultMaxPollInterval caps the interval between status checks
	DefaultMaxPollInterval = 60 * time.Second

	// DefaultBackoffMultiplier grows the poll interval after each check
	DefaultBackoffMultiplier = 1.5

	// DefaultWaitTimeout bounds how long a deployment may take to reach InService.
	// Neuron models are compiled or loaded at startup which can take well over
	// half an hour on large instances.
	DefaultWaitTimeout = 90 * time.Minute
)

// ProgressiveBackoff implements an exponential backoff strategy with a maximum cap.
type ProgressiveBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	current    time.Duration
}

// NewProgressiveBackoff creates a backoff starting at initial
func NewProgressiveBackoff(initial, max time.Duration, multiplier float64) *ProgressiveBackoff {
	return &ProgressiveBackoff{
		Initial:    initial,
		Max:        max,
		Multiplier: multiplier,
		current:    initial,
	}
}

// Next returns the current interval and advances to the next one
func (pb *ProgressiveBackoff) Next() time.Duration {
	current := pb.current

	next := time.Duration(float64(pb.current) * pb.Multiplier)
	if next > pb.Max {
		next = pb.Max
	}
	pb.current = next

	return current
}

// Reset resets the backoff to the initial interval
func (pb *ProgressiveBackoff) Reset() {
	pb.current = pb.Initial
}
