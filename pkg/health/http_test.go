package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPChecker(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		delay       time.Duration
		timeout     time.Duration
		wantHealthy bool
		wantMessage string
	}{
		{
			name:        "backend up",
			status:      http.StatusOK,
			wantHealthy: true,
			wantMessage: "HTTP 200",
		},
		{
			name:        "missing route still reachable",
			status:      http.StatusNotFound,
			wantHealthy: true,
			wantMessage: "HTTP 404",
		},
		{
			name:        "rejected credentials still reachable",
			status:      http.StatusUnauthorized,
			wantHealthy: true,
			wantMessage: "HTTP 401",
		},
		{
			name:        "redirect is not followed",
			status:      http.StatusFound,
			wantHealthy: true,
			wantMessage: "HTTP 302",
		},
		{
			name:        "server error",
			status:      http.StatusBadGateway,
			wantHealthy: false,
			wantMessage: "HTTP 502 server error",
		},
		{
			name:        "slow backend times out",
			status:      http.StatusOK,
			delay:       200 * time.Millisecond,
			timeout:     50 * time.Millisecond,
			wantHealthy: false,
			wantMessage: FailureTimeout + ":",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(tt.delay)
				if tt.status == http.StatusFound {
					http.Redirect(w, r, "http://invalid.example/", tt.status)
					return
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			url := server.URL + "/api/health"
			result := NewHTTPChecker(url, tt.timeout).Check(context.Background())

			assert.Equal(t, tt.wantHealthy, result.Healthy, result.Message)
			assert.True(t, strings.HasPrefix(result.Message, tt.wantMessage), result.Message)
			assert.Equal(t, url, result.Target)
			assert.False(t, result.CheckedAt.IsZero())
		})
	}
}

func TestHTTPCheckerRequest(t *testing.T) {
	var method, cacheControl string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		cacheControl = r.Header.Get("Cache-Control")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL, time.Second)
	require.True(t, checker.Check(context.Background()).Healthy)

	assert.Equal(t, http.MethodHead, method)
	assert.Equal(t, "no-cache", cacheControl)
	assert.Equal(t, CheckTypeHTTP, checker.Type())
}

func TestHTTPCheckerCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewHTTPChecker(server.URL, 0).Check(ctx)
	assert.False(t, result.Healthy)
	assert.True(t, strings.HasPrefix(result.Message, FailureCancelled+":"), result.Message)
}

func TestTCPChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	checker := NewTCPChecker(addr, time.Second)
	result := checker.Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
	assert.Equal(t, addr, result.Target)
	assert.Equal(t, CheckTypeTCP, checker.Type())

	ln.Close()
	result = checker.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.True(t, strings.HasPrefix(result.Message, FailureRefused+":"), result.Message)
}

func TestForBackend(t *testing.T) {
	c := ForBackend("https://api.example.com", "", time.Second)
	require.IsType(t, &HTTPChecker{}, c)
	assert.Equal(t, "https://api.example.com", c.(*HTTPChecker).URL)

	c = ForBackend("https://api.example.com", "db.example.com:5432", time.Second)
	require.IsType(t, &TCPChecker{}, c)
	assert.Equal(t, "db.example.com:5432", c.(*TCPChecker).Address)
	assert.Equal(t, time.Second, c.(*TCPChecker).Timeout)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"cancelled", fmt.Errorf("do: %w", context.Canceled), FailureCancelled},
		{"deadline", fmt.Errorf("do: %w", context.DeadlineExceeded), FailureTimeout},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutError{}}, FailureTimeout},
		{"dns", &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "gym.invalid"}}, FailureDNS},
		{"other", errors.New("connection reset"), FailureUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestStatusUpdate(t *testing.T) {
	cfg := Config{Retries: 2}
	down := Result{Healthy: false, CheckedAt: time.Now()}
	up := Result{Healthy: true, CheckedAt: time.Now()}

	s := NewStatus()

	assert.False(t, s.Update(down, cfg), "one failure is below the retry threshold")
	assert.True(t, s.Healthy)

	assert.True(t, s.Update(down, cfg))
	assert.False(t, s.Healthy)
	assert.Equal(t, 2, s.ConsecutiveFailures)

	assert.False(t, s.Update(down, cfg))

	assert.True(t, s.Update(up, cfg), "a single success recovers")
	assert.True(t, s.Healthy)
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.Equal(t, 1, s.ConsecutiveSuccesses)
}

func TestStatusZeroRetries(t *testing.T) {
	s := NewStatusWith(true)
	changed := s.Update(Result{Healthy: false}, Config{})
	assert.True(t, changed)
	assert.False(t, s.Healthy)
}

func TestCheckFunc(t *testing.T) {
	var calls int
	c := CheckFunc(func(ctx context.Context) Result {
		calls++
		return Result{Healthy: true}
	})

	assert.True(t, c.Check(context.Background()).Healthy)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CheckTypeFunc, c.Type())
}
