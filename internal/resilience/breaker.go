package resilience

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Breaker skips a flaky upstream after Threshold consecutive failures
// inside Window, for Cooldown.
type Breaker struct {
	Name      string
	Threshold int
	Window    time.Duration
	Cooldown  time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	openUntil   time.Time
	now         func() time.Time
}

// NewBreaker creates a Breaker.
func NewBreaker(name string, threshold int, window, cooldown time.Duration) *Breaker {
	return &Breaker{
		Name:      name,
		Threshold: threshold,
		Window:    window,
		Cooldown:  cooldown,
		now:       time.Now,
	}
}

// Open reports whether calls should currently be skipped.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.openUntil)
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if now.Sub(b.lastFailure) > b.Window {
		b.failures = 0
	}
	b.failures++
	b.lastFailure = now
	if b.failures >= b.Threshold {
		b.openUntil = now.Add(b.Cooldown)
		zap.L().Warn("circuit breaker opened",
			zap.String("service", b.Name),
			zap.Int("failures", b.failures),
			zap.Duration("cooldown", b.Cooldown),
		)
	}
}

// Success resets the failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}
