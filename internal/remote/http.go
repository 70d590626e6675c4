// Package remote delivers queued actions to the backend over HTTP.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/config"
	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/logging"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/models"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/telemetry"
)

// IdempotencyKeyHeader is the action header hosts set so the backend can
// deduplicate a replay that succeeded remotely but was not acknowledged.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxErrorBody = 512

// MethodFor maps an action kind to its HTTP method.
func MethodFor(kind models.ActionKind) (string, error) {
	switch kind {
	case models.ActionCreate, models.ActionSync:
		return http.MethodPost, nil
	case models.ActionUpdate:
		return http.MethodPut, nil
	case models.ActionDelete:
		return http.MethodDelete, nil
	}
	return "", apperrors.Newf(apperrors.ErrInvalid, "unknown action kind %q", kind)
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Status == http.StatusRequestTimeout ||
		e.Status == http.StatusTooManyRequests ||
		e.Status >= 500
}

// HTTPCaller executes queued actions against a base URL.
type HTTPCaller struct {
	baseURL     string
	client      *http.Client
	headers     map[string]string
	timeout     time.Duration
	maxAttempts uint
	retryWait   time.Duration
	limiter     *rate.Limiter
	metrics     *telemetry.Metrics
}

// Option configures an HTTPCaller.
type Option func(*HTTPCaller)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPCaller) { h.client = c }
}

// WithMetrics records every call on metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *HTTPCaller) { h.metrics = m }
}

// WithRetryWait sets the first backoff interval between attempts.
func WithRetryWait(d time.Duration) Option {
	return func(h *HTTPCaller) { h.retryWait = d }
}

// NewHTTPCaller builds a caller from the remote section of cfg.
func NewHTTPCaller(cfg config.Config, opts ...Option) *HTTPCaller {
	limit := rate.Limit(cfg.Remote.RatePerSecond)
	if cfg.Remote.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Remote.Burst
	if burst < 1 {
		burst = 1
	}
	attempts := cfg.Remote.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	headers := make(map[string]string, len(cfg.Remote.Headers))
	for k, v := range cfg.Remote.Headers {
		headers[k] = v
	}

	h := &HTTPCaller{
		baseURL:     strings.TrimRight(cfg.Remote.BaseURL, "/"),
		client:      &http.Client{},
		headers:     headers,
		timeout:     cfg.RemoteTimeout(),
		maxAttempts: uint(attempts),
		retryWait:   500 * time.Millisecond,
		limiter:     rate.NewLimiter(limit, burst),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Execute sends one action. Transport errors, 408, 429 and 5xx are retried
// with exponential backoff; every other failure ends the call. The returned
// error is always REMOTE_FAILED.
func (h *HTTPCaller) Execute(ctx context.Context, kind models.ActionKind, endpoint string, payload models.Value, headers map[string]string) error {
	method, err := MethodFor(kind)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteFailed, "build request", err)
	}
	var body []byte
	if !payload.IsNull() {
		body, err = json.Marshal(payload)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrRemoteFailed, "encode payload", err)
		}
	}
	url := h.baseURL + endpoint

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.retryWait
	b.MaxInterval = 10 * h.retryWait

	start := time.Now()
	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := h.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		err := h.do(ctx, method, url, body, headers)
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			logging.Debug("Remote attempt failed", map[string]interface{}{
				"method":   method,
				"endpoint": endpoint,
				"attempt":  attempt,
				"error":    err.Error(),
			})
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(h.maxAttempts))

	h.metrics.RemoteCall(ctx, method, err == nil, time.Since(start).Seconds())
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteFailed, method+" "+endpoint, err)
	}
	return nil
}

func (h *HTTPCaller) do(ctx context.Context, method, url string, body []byte, headers map[string]string) error {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return backoff.Permanent(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}
