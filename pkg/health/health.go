package health

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// CheckType represents the type of connectivity probe
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeFunc CheckType = "func"
)

// Result represents the outcome of a single probe
type Result struct {
	Healthy   bool
	Target    string
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all probes must implement
type Checker interface {
	// Check performs the probe and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of probe
	Type() CheckType
}

// Config controls how often a probe runs and how results are debounced
type Config struct {
	// Interval is the time between probes
	Interval time.Duration

	// Timeout bounds a single probe
	Timeout time.Duration

	// Retries is the number of consecutive failures before the target is
	// considered unreachable. One success is always enough to recover.
	Retries int
}

// DefaultConfig returns the connectivity probe defaults
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		Timeout:  2 * time.Second,
		Retries:  2,
	}
}

// ForBackend returns a TCPChecker when addr is set and an HTTPChecker
// against url otherwise
func ForBackend(url, addr string, timeout time.Duration) Checker {
	if addr != "" {
		return NewTCPChecker(addr, timeout)
	}
	return NewHTTPChecker(url, timeout)
}

// Failure kinds prefixed to the message of a failed result
const (
	FailureTimeout     = "timeout"
	FailureDNS         = "dns"
	FailureRefused     = "refused"
	FailureCancelled   = "cancelled"
	FailureUnreachable = "unreachable"
)

// Kind classifies a transport error
func Kind(err error) string {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return FailureCancelled
	case errors.As(err, &dnsErr):
		return FailureDNS
	case errors.Is(err, syscall.ECONNREFUSED):
		return FailureRefused
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return FailureTimeout
	default:
		return FailureUnreachable
	}
}

func describe(err error) string {
	return Kind(err) + ": " + err.Error()
}

func failure(target string, start time.Time, message string) Result {
	return Result{
		Healthy:   false,
		Target:    target,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// CheckFunc adapts a plain function to the Checker interface
type CheckFunc func(ctx context.Context) Result

// Check calls f
func (f CheckFunc) Check(ctx context.Context) Result {
	return f(ctx)
}

// Type returns CheckTypeFunc
func (f CheckFunc) Type() CheckType {
	return CheckTypeFunc
}

// Status accumulates probe results into a debounced healthy flag
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result

	// Healthy flips to false only after Retries consecutive failures
	Healthy bool
}

// NewStatus creates a Status that starts healthy
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// NewStatusWith creates a Status with an explicit starting state
func NewStatusWith(healthy bool) *Status {
	return &Status{Healthy: healthy}
}

// Update folds a probe result into the status and reports whether the
// Healthy flag changed
func (s *Status) Update(result Result, config Config) bool {
	before := s.Healthy
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0

		retries := config.Retries
		if retries < 1 {
			retries = 1
		}
		if s.ConsecutiveFailures >= retries {
			s.Healthy = false
		}
	}

	return s.Healthy != before
}
