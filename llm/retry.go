package llm

import "time"

// RetryStrategy defines how to handle stream interruptions.
type RetryStrategy interface {
	// ShouldRetry determines if a retry should be attempted.
	ShouldRetry(err error) bool

	// NextDelay returns the delay before the next retry.
	NextDelay() time.Duration

	// Reset resets the retry state.
	Reset()
}

// maxShiftAmount caps the exponential backoff shift to prevent overflow.
const maxShiftAmount = 30

// DefaultRetryStrategy implements capped exponential backoff.
type DefaultRetryStrategy struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	attempts    int
}

func (s *DefaultRetryStrategy) ShouldRetry(err error) bool {
	if s.attempts >= s.MaxRetries {
		return false
	}
	return err != nil && isRetryable(err)
}

func (s *DefaultRetryStrategy) NextDelay() time.Duration {
	s.attempts++
	shiftAmount := s.attempts - 1
	if shiftAmount > maxShiftAmount {
		shiftAmount = maxShiftAmount
	}
	delay := s.InitialWait * time.Duration(1<<shiftAmount)
	if delay > s.MaxWait {
		delay = s.MaxWait
	}
	return delay
}

func (s *DefaultRetryStrategy) Reset() {
	s.attempts = 0
}
