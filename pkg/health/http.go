package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPChecker treats the backend as reachable when it answers a request with
// a status at or below MaxStatus. A 4xx still proves the server is there; a
// 5xx means writes would fail, so it counts as down.
type HTTPChecker struct {
	URL       string
	Method    string
	MaxStatus int
	Client    *http.Client
}

// NewHTTPChecker creates a HEAD checker against url. Redirects are not
// followed: answering with one is enough.
func NewHTTPChecker(url string, timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &HTTPChecker{
		URL:       url,
		Method:    http.MethodHead,
		MaxStatus: http.StatusInternalServerError - 1,
		Client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Check sends one request
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return failure(h.URL, start, fmt.Sprintf("invalid request: %v", err))
	}
	// Intermediary caches must not answer for the backend
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := h.Client.Do(req)
	if err != nil {
		return failure(h.URL, start, describe(err))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	result := Result{
		Healthy:   resp.StatusCode <= h.MaxStatus,
		Target:    h.URL,
		Message:   fmt.Sprintf("HTTP %d", resp.StatusCode),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
	if !result.Healthy {
		result.Message += " server error"
	}
	return result
}

// Type returns CheckTypeHTTP
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}
