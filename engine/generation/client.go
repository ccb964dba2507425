package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/examforge/examforge/engine/infra/monitoring"
	"github.com/examforge/examforge/engine/normalizer"
	"github.com/examforge/examforge/engine/provider"
	"github.com/examforge/examforge/pkg/config"
	"github.com/examforge/examforge/pkg/logger"
	"github.com/sethvargo/go-retry"
)

// ClientConfig is the per-unit retry policy.
type ClientConfig struct {
	// MaxAttempts bounds primary calls per unit, including the first one.
	MaxAttempts int
	// RetryDelay is the fixed pause between primary attempts.
	RetryDelay time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{MaxAttempts: config.DefaultMaxAttempts, RetryDelay: 2 * time.Second}
}

type ClientOption func(*Client)

func WithNormalizer(n *normalizer.Normalizer) ClientOption {
	return func(c *Client) {
		if n != nil {
			c.normalizer = n
		}
	}
}

func WithRecorder(r monitoring.Recorder) ClientOption {
	return func(c *Client) {
		if r != nil {
			c.metrics = r
		}
	}
}

// Client generates one unit: the primary provider is tried up to
// MaxAttempts times, then the fallback exactly once.
type Client struct {
	primary    provider.Provider
	fallback   provider.Provider
	cfg        ClientConfig
	normalizer *normalizer.Normalizer
	metrics    monitoring.Recorder
}

func NewClient(primary, fallback provider.Provider, cfg ClientConfig, opts ...ClientOption) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = config.DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	c := &Client{
		primary:    primary,
		fallback:   fallback,
		cfg:        cfg,
		normalizer: normalizer.New(),
		metrics:    monitoring.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate returns the unit's result or an error. Validation problems are
// returned as *core.ValidationError without calling any provider; every other
// failure is an *ExhaustedError.
func (c *Client) Generate(ctx context.Context, u *Unit) (*Result, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With(
		"unit_index", u.Index,
		"segment_tag", u.SegmentTag,
		"content_kind", u.ContentKind,
	)
	req := u.request()
	var (
		result   *Result
		attempts int
	)
	primaryErr := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempts++
		res, err := c.attempt(ctx, c.primary, u, req)
		if err != nil {
			log.Warn("Primary provider attempt failed", "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		result = res
		return nil
	})
	if primaryErr == nil {
		result.Source = SourcePrimary
		result.Attempts = attempts
		return result, nil
	}
	if c.fallback == nil {
		return nil, &ExhaustedError{Attempts: attempts, PrimaryErr: primaryErr}
	}
	log.Warn("Primary provider exhausted, calling fallback", "attempts", attempts, "error", primaryErr)
	res, err := c.attempt(ctx, c.fallback, u, req)
	if err != nil {
		c.metrics.FallbackInvoked(ctx, monitoring.OutcomeFailure)
		log.Error("Fallback provider failed", "error", err)
		return nil, &ExhaustedError{Attempts: attempts, PrimaryErr: primaryErr, FallbackErr: err}
	}
	c.metrics.FallbackInvoked(ctx, monitoring.OutcomeSuccess)
	res.Source = SourceFallback
	res.Attempts = attempts + 1
	return res, nil
}

// backoff yields a constant delay for MaxAttempts-1 retries. It is stateful,
// so each unit needs its own.
func (c *Client) backoff() retry.Backoff {
	delay := c.cfg.RetryDelay
	constant := retry.BackoffFunc(func() (time.Duration, bool) {
		return delay, false
	})
	return retry.WithMaxRetries(uint64(c.cfg.MaxAttempts-1), constant) // #nosec G115 -- MaxAttempts is positive
}

func (c *Client) attempt(ctx context.Context, p provider.Provider, u *Unit, req *provider.Request) (*Result, error) {
	name := p.Name()
	raw, err := p.Call(ctx, req)
	if err != nil {
		c.metrics.ProviderAttempt(ctx, name, monitoring.OutcomeFailure)
		return nil, &TransientError{Provider: name, Err: err}
	}
	out, err := c.normalizer.Normalize(raw)
	if err != nil {
		c.metrics.ProviderAttempt(ctx, name, monitoring.OutcomeFailure)
		return nil, &TransientError{Provider: name, Err: err}
	}
	if out.IsEmpty() {
		c.metrics.ProviderAttempt(ctx, name, monitoring.OutcomeFailure)
		return nil, &TransientError{Provider: name, Err: fmt.Errorf("%w: empty structure", normalizer.ErrParse)}
	}
	c.metrics.ProviderAttempt(ctx, name, monitoring.OutcomeSuccess)
	return newResult(u, out, raw), nil
}
