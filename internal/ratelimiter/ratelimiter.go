package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Config sets the sustained rate and burst of a limiter.
// A zero RequestsPerSecond disables limiting.
type Config struct {
	RequestsPerSecond uint `mapstructure:"requests_per_second"`
	Burst             uint `mapstructure:"burst"`
}

// RateLimiter throttles requests with a token bucket.
//
// Each pvwire connection owns one limiter so a single chatty client (a
// runaway monitor loop, typically) cannot starve the others.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter. A zero burst defaults to the sustained rate.
func New(cfg Config) *RateLimiter {
	if cfg.RequestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}

	burst := cfg.Burst
	if burst == 0 {
		burst = cfg.RequestsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(burst)),
	}
}

// Allow reports whether a request may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Unlimited reports whether the limiter lets everything through.
func (r *RateLimiter) Unlimited() bool {
	return r.limiter.Limit() == rate.Inf
}
