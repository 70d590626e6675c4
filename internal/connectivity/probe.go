package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/broadcast"
	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/logging"
)

// Probe reports raw reachability.
type Probe interface {
	// Check returns the current raw result.
	Check(ctx context.Context) (Raw, error)
	// Watch streams raw results until ctx is done, then closes the channel.
	Watch(ctx context.Context) (<-chan Raw, error)
}

// =====================================================
// HTTP probe
// =====================================================

// HTTPProbe polls a URL. A 2xx answer is ethernet, a non-2xx answer is a
// limited network, and a transport failure after every attempt is none.
type HTTPProbe struct {
	url      string
	client   *http.Client
	interval time.Duration
	attempts uint
}

// NewHTTPProbe creates a probe polling url every interval. Each request is
// bounded by timeout and tried up to attempts times.
func NewHTTPProbe(url string, interval, timeout time.Duration, attempts int) *HTTPProbe {
	if attempts < 1 {
		attempts = 1
	}
	return &HTTPProbe{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		interval: interval,
		attempts: uint(attempts),
	}
}

// Check performs one probe.
func (p *HTTPProbe) Check(ctx context.Context) (Raw, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	raw, err := backoff.Retry(ctx, func() (Raw, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return "", err
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return RawEthernet, nil
		}
		return Raw(fmt.Sprintf("http_%d", resp.StatusCode)), nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.attempts))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		logging.Debug("Connectivity probe failed", map[string]interface{}{
			"url":   p.url,
			"error": err.Error(),
		})
		return RawNone, nil
	}
	return raw, nil
}

// Watch emits one result immediately and then one per interval.
func (p *HTTPProbe) Watch(ctx context.Context) (<-chan Raw, error) {
	if p.interval <= 0 {
		return nil, apperrors.New(apperrors.ErrInvalid, "probe interval must be positive")
	}
	out := make(chan Raw)
	go func() {
		defer close(out)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			raw, err := p.Check(ctx)
			if err != nil {
				return
			}
			select {
			case out <- raw:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// =====================================================
// Push probe
// =====================================================

// PushProbe is fed by the host, which reports raw results with Set.
type PushProbe struct {
	mu      sync.RWMutex
	current Raw
	known   bool
	hub     *broadcast.Hub[Raw]
}

// NewPushProbe creates a probe with no result yet.
func NewPushProbe() *PushProbe {
	return &PushProbe{hub: broadcast.NewHub[Raw]()}
}

// Set records raw as the latest result and notifies watchers.
func (p *PushProbe) Set(raw Raw) {
	p.mu.Lock()
	p.current = raw
	p.known = true
	p.mu.Unlock()
	p.hub.Publish(raw)
}

// Check returns the last pushed result, or NOT_FOUND before the first push.
func (p *PushProbe) Check(ctx context.Context) (Raw, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.known {
		return "", apperrors.New(apperrors.ErrNotFound, "no connectivity result pushed yet")
	}
	return p.current, nil
}

// Watch streams pushed results until ctx is done.
func (p *PushProbe) Watch(ctx context.Context) (<-chan Raw, error) {
	id, ch := p.hub.Subscribe()
	go func() {
		<-ctx.Done()
		p.hub.Unsubscribe(id)
	}()
	return ch, nil
}

// Close ends every watch stream.
func (p *PushProbe) Close() {
	p.hub.Close()
}
