package service

import (
	"errors"
	"fmt"
	"time"
)

var ErrRetriesExhausted = errors.New("vehicle api retries exhausted")

type RetryDecision struct {
	// Backoff is how long to wait before the next attempt. Zero after a success.
	Backoff  time.Duration
	Failures int
	// Fatal is set once the failure budget is spent; the process must stop.
	Fatal error
}

// RetrySupervisor counts consecutive failures of vehicle API calls. Any success
// resets the count.
type RetrySupervisor struct {
	MaxFailures int
	Backoff     time.Duration
	failures    int
}

func NewRetrySupervisor(maxFailures int, backoff time.Duration) *RetrySupervisor {
	return &RetrySupervisor{
		MaxFailures: maxFailures,
		Backoff:     backoff,
	}
}

func (r *RetrySupervisor) Observe(err error) RetryDecision {
	if err == nil {
		r.failures = 0
		return RetryDecision{}
	}
	r.failures++
	decision := RetryDecision{
		Backoff:  r.Backoff,
		Failures: r.failures,
	}
	if r.failures > r.MaxFailures {
		decision.Fatal = fmt.Errorf("%w after %d consecutive failures: %w", ErrRetriesExhausted, r.failures, err)
	}
	return decision
}

func (r *RetrySupervisor) Failures() int {
	return r.failures
}
