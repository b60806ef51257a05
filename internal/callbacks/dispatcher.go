// Package callbacks delivers simulator callbacks to merchant endpoints and
// records the outcome.
package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3

	baseBackoff   = 500 * time.Millisecond
	jitterceiling = 250 * time.Millisecond
)

type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// DispatchResponse captures the merchant's accepting response.
type DispatchResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// Dispatcher POSTs JSON payloads with bounded retries. It is pure transport:
// no persistence, no interpretation of the response beyond the status class.
type Dispatcher struct {
	HTTPClient  HTTPClient
	Timeout     time.Duration
	MaxAttempts uint

	// baseBackoff is shrunk in tests; everything else uses the default.
	baseBackoff time.Duration
}

func NewDispatcher(timeout time.Duration, maxAttempts uint) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Dispatcher{
		HTTPClient:  &http.Client{},
		Timeout:     timeout,
		MaxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
	}
}

// Dispatch POSTs the JSON-serialized payload to url. Success is any 2xx
// response. Attempt n is followed by a 2^n*500ms sleep plus up to 250ms of
// jitter; on exhaustion the last error is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, url string, payload any) (*DispatchResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling callback payload: %w", err)
	}

	var response *DispatchResponse
	err = retry.Do(
		func() error {
			var attemptErr error
			response, attemptErr = d.attempt(ctx, url, body)
			return attemptErr
		},
		retry.Attempts(d.MaxAttempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			base := d.baseBackoff
			if base <= 0 {
				base = baseBackoff
			}
			// retry-go counts attempts from zero; the backoff schedule
			// starts at 2x the base.
			backoff := base * time.Duration(1<<(n+1))
			return backoff + time.Duration(rand.Int63n(int64(jitterceiling)))
		}),
	)
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (d *Dispatcher) attempt(ctx context.Context, url string, body []byte) (*DispatchResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting callback to %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading callback response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("callback endpoint returned status %d: %s", resp.StatusCode, strings.ToValidUTF8(string(respBody), "�"))
	}

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = strings.ToValidUTF8(resp.Header.Get(name), "�")
	}

	return &DispatchResponse{
		StatusCode: resp.StatusCode,
		Body:       strings.ToValidUTF8(string(respBody), "�"),
		Headers:    headers,
	}, nil
}
