// Package httpclient holds the shared tuned HTTP client used for feed
// downloads, corpus refreshes, and metadata lookups, plus a single-retry
// policy for 429/5xx responses and a per-host concurrency cap.
package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const UserAgent = "epgmergr/1.0"

var defaultClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Default returns the shared client. Feed downloads can be large, so the
// default timeout is generous; use WithTimeout for short-lived lookups.
func Default() *http.Client { return defaultClient }

// WithTimeout returns a client sharing Default's transport with a custom timeout.
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{Timeout: timeout, Transport: t.Clone()}
}

// RetryPolicy controls the single retry DoWithRetry may perform.
type RetryPolicy struct {
	Max429Wait time.Duration // cap on honoring Retry-After
	Backoff5xx time.Duration // fixed wait before the 5xx retry
}

var DefaultRetryPolicy = RetryPolicy{Max429Wait: 60 * time.Second, Backoff5xx: time.Second}

// Get issues a GET with the shared User-Agent through DoWithRetry.
func Get(ctx context.Context, client *http.Client, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	return DoWithRetry(ctx, client, req, DefaultRetryPolicy)
}

// DoWithRetry performs req, retrying once on 429 (honoring Retry-After, capped)
// or 5xx (fixed backoff). Other 4xx are returned as-is. The request must have
// no body. Caller closes resp.Body when err == nil.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	if client == nil {
		client = defaultClient
	}
	release := hostSem.acquire(req.URL)
	defer release()

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	var wait time.Duration
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait = retryAfter(resp.Header.Get("Retry-After"), policy.Max429Wait)
	case resp.StatusCode >= 500:
		wait = policy.Backoff5xx
	default:
		return resp, nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
	}
	retry, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	retry.Header = req.Header.Clone()
	return client.Do(retry)
}

func retryAfter(header string, max time.Duration) time.Duration {
	header = strings.TrimSpace(header)
	if sec, err := strconv.Atoi(header); err == nil && sec >= 0 {
		return min(time.Duration(sec)*time.Second, max)
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		if until := time.Until(t); until > 0 {
			return min(until, max)
		}
		return 0
	}
	return time.Second
}

// hostSemaphore caps concurrent requests per scheme+host so a grab pool and
// a corpus refresh cannot gang up on one upstream.
type hostSemaphore struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	limit int
}

var hostSem = &hostSemaphore{slots: map[string]chan struct{}{}, limit: 4}

func (h *hostSemaphore) acquire(u *url.URL) func() {
	key := u.Scheme + "://" + u.Host
	h.mu.Lock()
	sem, ok := h.slots[key]
	if !ok {
		sem = make(chan struct{}, h.limit)
		h.slots[key] = sem
	}
	h.mu.Unlock()
	sem <- struct{}{}
	return func() { <-sem }
}
