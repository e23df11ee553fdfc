package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/amino/pkg/queue"
	"github.com/cuemby/amino/pkg/types"
)

// Backend is the authoritative remote service
type Backend interface {
	CreateMember(ctx context.Context, m *types.Member) error
	UpdateMember(ctx context.Context, m *types.Member) error
	CreatePayment(ctx context.Context, p *types.Payment) error
	MarkAttendance(ctx context.Context, a *types.Activity) error
}

// BackendClient is the HTTP Backend. 4xx answers other than 408 and 429 are
// permanent failures; everything else is worth retrying.
type BackendClient struct {
	baseURL *url.URL
	client  *http.Client
	headers http.Header
}

// DefaultBackendTimeout bounds a single backend call
const DefaultBackendTimeout = 10 * time.Second

// NewBackendClient creates a client for the API rooted at baseURL
func NewBackendClient(baseURL string, timeout time.Duration) (*BackendClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q: scheme and host are required", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}
	return &BackendClient{
		baseURL: u,
		client:  &http.Client{Timeout: timeout},
		headers: make(http.Header),
	}, nil
}

// SetHeader adds a header to every request, such as an API key
func (c *BackendClient) SetHeader(key, value string) {
	c.headers.Set(key, value)
}

// CreateMember implements Backend
func (c *BackendClient) CreateMember(ctx context.Context, m *types.Member) error {
	return c.send(ctx, http.MethodPost, "/api/members", m)
}

// UpdateMember implements Backend
func (c *BackendClient) UpdateMember(ctx context.Context, m *types.Member) error {
	return c.send(ctx, http.MethodPut, "/api/members/"+url.PathEscape(m.ID), m)
}

// CreatePayment implements Backend
func (c *BackendClient) CreatePayment(ctx context.Context, p *types.Payment) error {
	return c.send(ctx, http.MethodPost, "/api/payments", p)
}

// MarkAttendance implements Backend
func (c *BackendClient) MarkAttendance(ctx context.Context, a *types.Activity) error {
	return c.send(ctx, http.MethodPost, "/api/attendance", a)
}

func (c *BackendClient) send(ctx context.Context, method, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w: %w", err, queue.ErrPermanent)
	}

	target := c.baseURL.JoinPath(strings.TrimPrefix(path, "/"))
	req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	if permanentStatus(resp.StatusCode) {
		return fmt.Errorf("%w: %w", err, queue.ErrPermanent)
	}
	return err
}

func permanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}
