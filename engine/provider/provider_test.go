package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/examforge/examforge/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitRequest() *Request {
	return &Request{Topic: "campus life", SourceDocument: "sample passage", SourceTag: "AIfromreal", SegmentTag: "1reading"}
}

func jsonServer(t *testing.T, status int, body any, inspect func(r *http.Request, payload map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if inspect != nil {
			inspect(r, payload)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWorkflowProvider_Call(t *testing.T) {
	t.Run("Should send workflow parameters and return the output field", func(t *testing.T) {
		data, err := json.Marshal(map[string]string{"output": `{"units":[]}`})
		require.NoError(t, err)
		var seen map[string]any
		var auth, reqID string
		srv := jsonServer(t, http.StatusOK, map[string]any{"code": 0, "msg": "", "data": string(data)},
			func(r *http.Request, payload map[string]any) {
				seen = payload
				auth = r.Header.Get("Authorization")
				reqID = r.Header.Get("X-Request-Id")
			})
		p, err := NewWorkflow(&WorkflowConfig{URL: srv.URL, Token: "tok", WorkflowID: "wf-1"})
		require.NoError(t, err)
		out, err := p.Call(t.Context(), unitRequest())
		require.NoError(t, err)
		assert.Equal(t, `{"units":[]}`, out)
		assert.Equal(t, "Bearer tok", auth)
		assert.NotEmpty(t, reqID)
		assert.Equal(t, "wf-1", seen["workflow_id"])
		params := seen["parameters"].(map[string]any)
		assert.Equal(t, "campus life", params["examTopic"])
		assert.Equal(t, "sample passage", params["inputExamPaperSamp"])
		assert.Equal(t, "AIfromreal", params["examPaperEnSource"])
		assert.Equal(t, "1reading", params["segmentIdSelf"])
	})

	t.Run("Should fail on a non-zero code", func(t *testing.T) {
		srv := jsonServer(t, http.StatusOK, map[string]any{"code": 4000, "msg": "quota exceeded"}, nil)
		p, err := NewWorkflow(&WorkflowConfig{URL: srv.URL, WorkflowID: "wf"})
		require.NoError(t, err)
		_, err = p.Call(t.Context(), unitRequest())
		assert.ErrorIs(t, err, ErrUpstream)
		assert.ErrorContains(t, err, "quota exceeded")
	})

	t.Run("Should fail on empty output and non-string data", func(t *testing.T) {
		for _, body := range []map[string]any{
			{"code": 0, "data": `{"output":""}`},
			{"code": 0, "data": map[string]any{"output": "x"}},
		} {
			srv := jsonServer(t, http.StatusOK, body, nil)
			p, err := NewWorkflow(&WorkflowConfig{URL: srv.URL, WorkflowID: "wf"})
			require.NoError(t, err)
			_, err = p.Call(t.Context(), unitRequest())
			assert.ErrorIs(t, err, ErrUpstream)
		}
	})

	t.Run("Should fail on non-2xx status", func(t *testing.T) {
		srv := jsonServer(t, http.StatusBadGateway, map[string]any{}, nil)
		p, err := NewWorkflow(&WorkflowConfig{URL: srv.URL, WorkflowID: "wf"})
		require.NoError(t, err)
		_, err = p.Call(t.Context(), unitRequest())
		assert.ErrorIs(t, err, ErrUpstream)
		assert.ErrorContains(t, err, "502")
	})

	t.Run("Should require url and workflow id", func(t *testing.T) {
		_, err := NewWorkflow(&WorkflowConfig{WorkflowID: "wf"})
		assert.Error(t, err)
		_, err = NewWorkflow(&WorkflowConfig{URL: "http://localhost"})
		assert.Error(t, err)
	})
}

func TestServiceProvider_Call(t *testing.T) {
	t.Run("Should send the model and return data", func(t *testing.T) {
		var seen map[string]any
		srv := jsonServer(t, http.StatusOK, map[string]any{"success": true, "data": `{"units":[1]}`},
			func(_ *http.Request, payload map[string]any) { seen = payload })
		p, err := NewService(&ServiceConfig{URL: srv.URL, Model: "deepseek-reasoner"})
		require.NoError(t, err)
		out, err := p.Call(t.Context(), unitRequest())
		require.NoError(t, err)
		assert.Equal(t, `{"units":[1]}`, out)
		assert.Equal(t, "deepseek-reasoner", seen["model"])
		assert.Equal(t, "1reading", seen["segmentIdSelf"])
	})

	t.Run("Should fail when success is false or data is empty", func(t *testing.T) {
		for _, body := range []map[string]any{
			{"success": false, "message": "model overloaded"},
			{"success": true, "data": "  "},
		} {
			srv := jsonServer(t, http.StatusOK, body, nil)
			p, err := NewService(&ServiceConfig{URL: srv.URL})
			require.NoError(t, err)
			_, err = p.Call(t.Context(), unitRequest())
			assert.ErrorIs(t, err, ErrUpstream)
		}
	})
}

func TestResilient_Call(t *testing.T) {
	t.Run("Should pass through successful calls", func(t *testing.T) {
		p := NewResilient(NewFunc("stub", func(_ context.Context, req *Request) (string, error) {
			return req.Topic, nil
		}), &ResilienceConfig{Timeout: time.Second})
		out, err := p.Call(t.Context(), unitRequest())
		require.NoError(t, err)
		assert.Equal(t, "campus life", out)
		assert.Equal(t, "stub", p.Name())
	})

	t.Run("Should time out slow calls", func(t *testing.T) {
		p := NewResilient(NewFunc("slow", func(ctx context.Context, _ *Request) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(2 * time.Second):
				return "late", nil
			}
		}), &ResilienceConfig{Timeout: 20 * time.Millisecond})
		_, err := p.Call(t.Context(), unitRequest())
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("Should convert panics into errors", func(t *testing.T) {
		p := NewResilient(NewFunc("boom", func(context.Context, *Request) (string, error) {
			panic("kaboom")
		}), &ResilienceConfig{})
		_, err := p.Call(t.Context(), unitRequest())
		assert.ErrorContains(t, err, "kaboom")
	})

	t.Run("Should open the breaker after repeated failures", func(t *testing.T) {
		var calls atomic.Int32
		p := NewResilient(NewFunc("flaky", func(context.Context, *Request) (string, error) {
			calls.Add(1)
			return "", errors.New("down")
		}), &ResilienceConfig{
			BreakerEnabled:              true,
			ErrorPercentThresholdToOpen: 50,
			MinimumRequestToOpen:        2,
			WaitDurationInOpenState:     time.Minute,
		})
		var lastErr error
		for range 6 {
			_, lastErr = p.Call(t.Context(), unitRequest())
		}
		assert.ErrorIs(t, lastErr, ErrCircuitOpen)
		assert.Less(t, calls.Load(), int32(6))
	})
}

func TestFromConfig(t *testing.T) {
	t.Run("Should build providers by kind", func(t *testing.T) {
		p, err := FromConfig("primary", &config.EndpointConfig{Kind: "workflow", URL: "http://localhost:1", WorkflowID: "wf"})
		require.NoError(t, err)
		assert.Equal(t, "primary", p.Name())
		p, err = FromConfig("fallback", &config.EndpointConfig{Kind: "service", URL: "http://localhost:2"})
		require.NoError(t, err)
		assert.Equal(t, "fallback", p.Name())
	})
	t.Run("Should reject unknown kinds and missing urls", func(t *testing.T) {
		_, err := FromConfig("x", &config.EndpointConfig{Kind: "grpc", URL: "http://localhost"})
		assert.Error(t, err)
		_, err = FromConfig("x", &config.EndpointConfig{Kind: "service"})
		assert.Error(t, err)
	})
}
