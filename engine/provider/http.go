package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/examforge/examforge/pkg/logger"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const defaultHTTPTimeout = 120 * time.Second

func newHTTPClient(timeout time.Duration, token string) *resty.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return client
}

// post sends body and returns the raw response payload. Transport errors and
// non-2xx responses are returned as errors.
func post(ctx context.Context, client *resty.Client, name, url string, body any) ([]byte, error) {
	requestID := uuid.NewString()
	log := logger.FromContext(ctx).With("provider", name, "request_id", requestID)
	start := time.Now()
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("X-Request-Id", requestID).
		SetBody(body).
		Post(url)
	if err != nil {
		log.Debug("Provider request failed", "error", err)
		return nil, fmt.Errorf("%s: request failed: %w", name, err)
	}
	log.Debug("Provider responded", "status", resp.StatusCode(), "duration_ms", time.Since(start).Milliseconds())
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrUpstream, name, resp.StatusCode())
	}
	return resp.Body(), nil
}
