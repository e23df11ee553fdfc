package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/amino/pkg/api"
	"github.com/cuemby/amino/pkg/queue"
	"github.com/cuemby/amino/pkg/session"
	"github.com/cuemby/amino/pkg/types"
)

// DefaultTimeout bounds every call unless the client is built with another
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx answer from the admin API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("admin API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("admin API returned %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client wraps the Amino admin API for easy CLI usage
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
}

// NewClient creates a client for the API at addr. addr may be host:port or a
// full http(s) URL.
func NewClient(addr string) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid API address %q", addr)
	}
	return &Client{
		base:    base,
		http:    &http.Client{},
		timeout: DefaultTimeout,
	}, nil
}

// SetTimeout changes the per-call timeout. Zero disables it.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Close releases idle connections
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, context.CancelFunc, error) {
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("admin API unreachable: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		defer cancel()
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	return resp, cancel, nil
}

// call sends in as JSON (when non-nil) and decodes the answer into out (when
// non-nil)
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, cancel, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer cancel()
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Health checks liveness
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.call(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the combined runtime view
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.call(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckNetwork probes the backend now
func (c *Client) CheckNetwork(ctx context.Context) (bool, error) {
	var out api.NetworkResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/network/check", nil, &out); err != nil {
		return false, err
	}
	return out.Online, nil
}

// Queue returns the redacted queue view
func (c *Client) Queue(ctx context.Context) (*queue.Snapshot, error) {
	var out queue.Snapshot
	if err := c.call(ctx, http.MethodGet, "/api/v1/queue", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueueStats returns queue storage usage
func (c *Client) QueueStats(ctx context.Context) (*queue.Stats, error) {
	var out queue.Stats
	if err := c.call(ctx, http.MethodGet, "/api/v1/queue/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearQueue drops every pending action
func (c *Client) ClearQueue(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/queue", nil, nil)
}

// DeadLetters lists actions dropped after a permanent failure
func (c *Client) DeadLetters(ctx context.Context) ([]types.DeadLetter, error) {
	var out []types.DeadLetter
	if err := c.call(ctx, http.MethodGet, "/api/v1/queue/dead-letters", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PurgeDeadLetters deletes every dead letter
func (c *Client) PurgeDeadLetters(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/queue/dead-letters", nil, nil)
}

// ForceSync drains the queue now. An offline runtime answers 503.
func (c *Client) ForceSync(ctx context.Context) (*queue.DrainResult, error) {
	var out queue.DrainResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/sync", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session returns the current session stats
func (c *Client) Session(ctx context.Context) (*session.Stats, error) {
	var out session.Stats
	if err := c.call(ctx, http.MethodGet, "/api/v1/session", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveSession saves the session and takes a backup
func (c *Client) SaveSession(ctx context.Context) (*types.SessionRecord, error) {
	var out types.SessionRecord
	if err := c.call(ctx, http.MethodPost, "/api/v1/session/save", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateData runs the integrity check
func (c *Client) ValidateData(ctx context.Context) (bool, error) {
	var out api.ValidateResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/session/validate", nil, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

// ListBackups returns the dated backup slots, newest first
func (c *Client) ListBackups(ctx context.Context) ([]string, error) {
	var out api.BackupsResponse
	if err := c.call(ctx, http.MethodGet, "/api/v1/backups", nil, &out); err != nil {
		return nil, err
	}
	return out.Slots, nil
}

// CreateBackup takes a backup now
func (c *Client) CreateBackup(ctx context.Context) (*types.BackupSnapshot, error) {
	var out types.BackupSnapshot
	if err := c.call(ctx, http.MethodPost, "/api/v1/backups", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBackup returns one backup slot
func (c *Client) GetBackup(ctx context.Context, slot string) (*types.BackupSnapshot, error) {
	var out types.BackupSnapshot
	if err := c.call(ctx, http.MethodGet, "/api/v1/backups/"+url.PathEscape(slot), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RestoreBackup applies the latest backup. It returns false when the
// runtime has none.
func (c *Client) RestoreBackup(ctx context.Context) (bool, error) {
	err := c.call(ctx, http.MethodPost, "/api/v1/backups/restore", nil, nil)
	if IsStatus(err, http.StatusNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Export returns the export document as written by the runtime
func (c *Client) Export(ctx context.Context) ([]byte, error) {
	resp, cancel, err := c.do(ctx, http.MethodGet, "/api/v1/export", nil, "")
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Import applies an export document
func (c *Client) Import(ctx context.Context, doc []byte) error {
	resp, cancel, err := c.do(ctx, http.MethodPost, "/api/v1/import", bytes.NewReader(doc), "application/json")
	if err != nil {
		return err
	}
	defer cancel()
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Settings returns every stored setting
func (c *Client) Settings(ctx context.Context) (types.Settings, error) {
	var out types.Settings
	if err := c.call(ctx, http.MethodGet, "/api/v1/settings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetSetting stores a setting value
func (c *Client) SetSetting(ctx context.Context, key string, value any) error {
	return c.call(ctx, http.MethodPut, "/api/v1/settings/"+url.PathEscape(key), value, nil)
}

// Cache describes the cache tiers
func (c *Client) Cache(ctx context.Context) (*api.CacheResponse, error) {
	var out api.CacheResponse
	if err := c.call(ctx, http.MethodGet, "/api/v1/cache", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PurgeCache deletes one tier, or every tier when tier is empty
func (c *Client) PurgeCache(ctx context.Context, tier string) error {
	path := "/api/v1/cache"
	if tier != "" {
		path += "/" + url.PathEscape(tier)
	}
	return c.call(ctx, http.MethodDelete, path, nil, nil)
}

// FireLifecycle fires a lifecycle event in the runtime
func (c *Client) FireLifecycle(ctx context.Context, event string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/lifecycle/"+url.PathEscape(event), nil, nil)
}
