package flow

import "time"

// RetryConfig bounds the transient-error retry loop around provider calls.
// These are defaults inferred from operating hosted backends, not
// contracts; tune them per deployment.
type RetryConfig struct {
	// MaxAttempts is the total number of provider calls per dispatch,
	// including the first.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	// BaseDelayMillis is the backoff before the second attempt; it doubles
	// per attempt up to MaxDelayMillis.
	BaseDelayMillis int `json:"base_delay_ms,omitempty" yaml:"base_delay_ms,omitempty"`
	MaxDelayMillis  int `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
}

// DefaultRetryConfig returns the default retry bounds: three attempts,
// 200ms base delay, 5s cap.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelayMillis: 200, MaxDelayMillis: 5000}
}

// Merge applies non-zero values from source into c.
func (c *RetryConfig) Merge(source *RetryConfig) {
	if source.MaxAttempts > 0 {
		c.MaxAttempts = source.MaxAttempts
	}
	if source.BaseDelayMillis > 0 {
		c.BaseDelayMillis = source.BaseDelayMillis
	}
	if source.MaxDelayMillis > 0 {
		c.MaxDelayMillis = source.MaxDelayMillis
	}
}

// backoff returns the delay before the given retry (attempt is zero-based:
// backoff(0) precedes the second call).
func (c RetryConfig) backoff(attempt int) time.Duration {
	base := time.Duration(c.BaseDelayMillis) * time.Millisecond
	max := time.Duration(c.MaxDelayMillis) * time.Millisecond
	if base <= 0 {
		return 0
	}

	delay := base << attempt
	if max > 0 && (delay > max || delay < base) {
		delay = max
	}
	return delay
}
