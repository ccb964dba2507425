package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slok/goresilience"
	"github.com/slok/goresilience/circuitbreaker"
	gerrors "github.com/slok/goresilience/errors"
	"github.com/slok/goresilience/timeout"
)

// ResilienceConfig configures the per-call guards around a provider.
type ResilienceConfig struct {
	Timeout                     time.Duration
	BreakerEnabled              bool
	ErrorPercentThresholdToOpen int
	MinimumRequestToOpen        int
	WaitDurationInOpenState     time.Duration
}

func DefaultResilienceConfig() *ResilienceConfig {
	return &ResilienceConfig{
		Timeout:                     defaultHTTPTimeout,
		ErrorPercentThresholdToOpen: 50,
		MinimumRequestToOpen:        10,
		WaitDurationInOpenState:     30 * time.Second,
	}
}

// Resilient enforces a per-call timeout and, optionally, a circuit breaker.
// It never retries; the generation client owns the retry policy.
type Resilient struct {
	inner  Provider
	runner goresilience.Runner
}

func NewResilient(inner Provider, cfg *ResilienceConfig) *Resilient {
	if cfg == nil {
		cfg = DefaultResilienceConfig()
	}
	var middlewares []goresilience.Middleware
	if cfg.Timeout > 0 {
		middlewares = append(middlewares, timeout.NewMiddleware(timeout.Config{Timeout: cfg.Timeout}))
	}
	if cfg.BreakerEnabled {
		middlewares = append(middlewares, circuitbreaker.NewMiddleware(circuitbreaker.Config{
			ErrorPercentThresholdToOpen:        cfg.ErrorPercentThresholdToOpen,
			MinimumRequestToOpen:               cfg.MinimumRequestToOpen,
			SuccessfulRequiredOnHalfOpen:       1,
			WaitDurationInOpenState:            cfg.WaitDurationInOpenState,
			MetricsSlidingWindowBucketQuantity: 10,
			MetricsBucketDuration:              time.Second,
		}))
	}
	return &Resilient{inner: inner, runner: goresilience.RunnerChain(middlewares...)}
}

func (r *Resilient) Name() string { return r.inner.Name() }

func (r *Resilient) Call(ctx context.Context, req *Request) (string, error) {
	var out string
	err := r.runner.Run(ctx, func(ctx context.Context) (runErr error) {
		defer func() {
			if rec := recover(); rec != nil {
				runErr = fmt.Errorf("%s: panic recovered: %v", r.inner.Name(), rec)
			}
		}()
		text, err := r.inner.Call(ctx, req)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, gerrors.ErrCircuitOpen):
		return "", fmt.Errorf("%w: %s", ErrCircuitOpen, r.inner.Name())
	case errors.Is(err, gerrors.ErrTimeout):
		return "", fmt.Errorf("%w: %s", ErrTimeout, r.inner.Name())
	default:
		return "", err
	}
}
