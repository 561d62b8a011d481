package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxResponseSize = 10 << 20 // 10MB
	maxErrorBody    = 512
)

// HTTPClient wraps net/http with a rate limiter, a circuit breaker and JSON
// encoding. Network errors, 429 and 5xx count against the breaker; other
// 4xx answers do not.
type HTTPClient struct {
	platform string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *CircuitBreaker
}

// ClientOptions configures an HTTPClient.
type ClientOptions struct {
	HTTPClient *http.Client
	Rate       rate.Limit
	Burst      int
	Breaker    BreakerConfig
}

// NewHTTPClient creates a client for platform (used in error messages).
func NewHTTPClient(platform string, opts ClientOptions) *HTTPClient {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 20 * time.Second}
	}
	limit := opts.Rate
	if limit == 0 {
		limit = rate.Inf
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HTTPClient{
		platform: platform,
		http:     hc,
		limiter:  rate.NewLimiter(limit, burst),
		breaker:  NewCircuitBreaker(opts.Breaker),
	}
}

// BreakerState exposes the breaker state for health reporting.
func (c *HTTPClient) BreakerState() CBState {
	return c.breaker.State()
}

// Request describes one JSON call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any // encoded as JSON when non-nil
}

// Do performs req and decodes a 2xx JSON body into out (when non-nil).
func (c *HTTPClient) Do(ctx context.Context, req Request, out any) error {
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.platform, err)
		}
		body = bytes.NewReader(data)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", c.platform, err)
	}

	var clientErr error
	err := c.breaker.Execute(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
		if err != nil {
			clientErr = fmt.Errorf("%s: build request: %w", c.platform, err)
			return nil
		}
		httpReq.Header.Set("Accept", "application/json")
		if req.Body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return fmt.Errorf("%s: %w: %v", c.platform, ErrUnavailable, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return fmt.Errorf("%s: read response: %w: %v", c.platform, ErrUnavailable, err)
		}

		if resp.StatusCode >= 400 {
			httpErr := &HTTPError{Platform: c.platform, Status: resp.StatusCode, Body: truncate(respBody)}
			if Retryable(httpErr) {
				return httpErr
			}
			clientErr = httpErr
			return nil
		}

		if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				clientErr = fmt.Errorf("%s: decode response: %w", c.platform, err)
			}
		}
		return nil
	})
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%s: %w: %w", c.platform, ErrUnavailable, err)
	}
	if err != nil {
		return err
	}
	return clientErr
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
