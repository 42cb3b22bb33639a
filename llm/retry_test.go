package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryStrategyBackoff(t *testing.T) {
	strategy := &DefaultRetryStrategy{
		MaxRetries:  5,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     500 * time.Millisecond,
	}

	assert.Equal(t, 100*time.Millisecond, strategy.NextDelay())
	assert.Equal(t, 200*time.Millisecond, strategy.NextDelay())
	assert.Equal(t, 400*time.Millisecond, strategy.NextDelay())
	// Capped at MaxWait from here on.
	assert.Equal(t, 500*time.Millisecond, strategy.NextDelay())
	assert.Equal(t, 500*time.Millisecond, strategy.NextDelay())

	strategy.Reset()
	assert.Equal(t, 100*time.Millisecond, strategy.NextDelay())
}

func TestDefaultRetryStrategyShouldRetry(t *testing.T) {
	strategy := &DefaultRetryStrategy{
		MaxRetries:  2,
		InitialWait: time.Millisecond,
		MaxWait:     time.Millisecond,
	}

	retryable := NewLLMError(ErrorTypeAPI, "500", nil)
	terminal := NewLLMError(ErrorTypeAuthentication, "401", nil)

	assert.True(t, strategy.ShouldRetry(retryable))
	assert.False(t, strategy.ShouldRetry(terminal))
	assert.False(t, strategy.ShouldRetry(nil))

	strategy.NextDelay()
	strategy.NextDelay()
	// Attempt budget exhausted.
	assert.False(t, strategy.ShouldRetry(retryable))
}
