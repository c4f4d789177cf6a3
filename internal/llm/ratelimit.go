package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimitConfig configures rate limiting for text-service calls.
type RateLimitConfig struct {
	// RequestsPerMinute limits the number of API calls per minute (0 = unlimited)
	RequestsPerMinute int
	// BurstSize allows temporary burst above the rate limit
	BurstSize int
}

// DefaultRateLimitConfig returns sensible defaults for hosted APIs.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 25,
		BurstSize:         3,
	}
}

// RateLimitProvider wraps a provider with request rate limiting. Both
// pipelines share one provider instance, so the limiter is the single point
// where their combined call rate is bounded.
type RateLimitProvider struct {
	inner  Provider
	config *RateLimitConfig

	mu            sync.Mutex
	requestTokens int
	lastRefill    time.Time
}

// WithRateLimit creates a rate-limited provider wrapper.
func WithRateLimit(inner Provider, config *RateLimitConfig) *RateLimitProvider {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitProvider{
		inner:         inner,
		config:        config,
		requestTokens: burst,
		lastRefill:    time.Now(),
	}
}

// Name returns the underlying provider name.
func (r *RateLimitProvider) Name() string {
	return r.inner.Name()
}

// Generate rate-limits and delegates to the inner provider.
func (r *RateLimitProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	if err := r.waitForCapacity(ctx); err != nil {
		return "", err
	}
	return r.inner.Generate(ctx, model, prompt)
}

// Embed rate-limits and delegates to the inner provider.
func (r *RateLimitProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.waitForCapacity(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}

// waitForCapacity blocks until the rate limit allows a request.
func (r *RateLimitProvider) waitForCapacity(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refillTokens()

		if r.config.RequestsPerMinute == 0 {
			r.mu.Unlock()
			return nil
		}

		if r.requestTokens > 0 {
			r.requestTokens--
			r.mu.Unlock()
			return nil
		}

		waitTime := r.calculateWaitTime()
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
			// Re-check capacity.
		}
	}
}

// refillTokens adds tokens based on elapsed time.
func (r *RateLimitProvider) refillTokens() {
	if r.config.RequestsPerMinute == 0 {
		return
	}
	now := time.Now()
	elapsed := now.Sub(r.lastRefill)

	tokensToAdd := int(elapsed.Minutes() * float64(r.config.RequestsPerMinute))
	if tokensToAdd > 0 {
		r.requestTokens += tokensToAdd
		maxTokens := r.config.BurstSize
		if maxTokens <= 0 {
			maxTokens = 1
		}
		if r.requestTokens > maxTokens {
			r.requestTokens = maxTokens
		}
		r.lastRefill = now
	}
}

// calculateWaitTime estimates how long until the next token becomes available.
func (r *RateLimitProvider) calculateWaitTime() time.Duration {
	tokensPerSecond := float64(r.config.RequestsPerMinute) / 60.0
	if tokensPerSecond <= 0 {
		return time.Second
	}
	wait := time.Duration(float64(time.Second) / tokensPerSecond)
	if wait < 100*time.Millisecond {
		wait = 100 * time.Millisecond
	}
	return wait
}
