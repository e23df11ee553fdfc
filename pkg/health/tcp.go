package health

import (
	"context"
	"net"
	"time"
)

// TCPChecker treats the backend as reachable when a connection to Address
// can be opened. It is selected by network.check_addr for backends without
// an HTTP endpoint worth requesting, or where a HEAD request has side effects.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a checker dialing address
func NewTCPChecker(address string, timeout time.Duration) *TCPChecker {
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &TCPChecker{Address: address, Timeout: timeout}
}

// Check opens and closes one connection
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return failure(t.Address, start, describe(err))
	}
	conn.Close()

	return Result{
		Healthy:   true,
		Target:    t.Address,
		Message:   "connected",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns CheckTypeTCP
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}
