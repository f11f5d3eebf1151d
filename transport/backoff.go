package transport

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// BackoffStrategy decides how long to wait before reconnect attempt N (1-based)
// and how many attempts are allowed.
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
	MaxAttempts() int
}

// ExponentialBackoff implements BackoffStrategy with exponential delay between attempts
type ExponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	factor       float64
	jitter       float64
	maxAttempts  int

	mu           sync.Mutex
	randomSource *rand.Rand
}

// NewExponentialBackoff creates a new exponential backoff strategy. Jitter is
// off by default so the schedule is exactly initial*2^(n-1), capped at maxDelay.
func NewExponentialBackoff(initialDelay, maxDelay time.Duration, maxAttempts int) *ExponentialBackoff {
	return &ExponentialBackoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		factor:       2.0,
		maxAttempts:  maxAttempts,
		randomSource: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// DefaultBackoff returns the reconnect schedule 1s, 2s, 4s, 8s, 16s, 16s...
func DefaultBackoff(maxAttempts int) *ExponentialBackoff {
	return NewExponentialBackoff(time.Second, 16*time.Second, maxAttempts)
}

// WithFactor sets the exponential factor (default 2.0)
func (b *ExponentialBackoff) WithFactor(factor float64) *ExponentialBackoff {
	b.factor = factor
	return b
}

// WithJitter sets the jitter factor to randomize delays, e.g. 0.2 for +/-10%.
func (b *ExponentialBackoff) WithJitter(jitter float64) *ExponentialBackoff {
	b.jitter = jitter
	return b
}

// NextDelay implements BackoffStrategy.NextDelay
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delayFloat := float64(b.initialDelay) * math.Pow(b.factor, float64(attempt-1))

	if b.jitter > 0 {
		b.mu.Lock()
		r := b.randomSource.Float64()
		b.mu.Unlock()
		delayFloat += (r - 0.5) * delayFloat * b.jitter
	}

	if b.maxDelay > 0 && delayFloat > float64(b.maxDelay) {
		delayFloat = float64(b.maxDelay)
	}

	return time.Duration(delayFloat)
}

// MaxAttempts implements BackoffStrategy.MaxAttempts
func (b *ExponentialBackoff) MaxAttempts() int {
	return b.maxAttempts
}

// ConstantBackoff implements BackoffStrategy with fixed delay between attempts
type ConstantBackoff struct {
	delay       time.Duration
	maxAttempts int
}

// NewConstantBackoff creates a new constant backoff strategy
func NewConstantBackoff(delay time.Duration, maxAttempts int) *ConstantBackoff {
	return &ConstantBackoff{delay: delay, maxAttempts: maxAttempts}
}

// NextDelay implements BackoffStrategy.NextDelay
func (b *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return b.delay
}

// MaxAttempts implements BackoffStrategy.MaxAttempts
func (b *ConstantBackoff) MaxAttempts() int {
	return b.maxAttempts
}
