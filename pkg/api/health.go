package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/amino/pkg/metrics"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

func (s *Server) registry() *metrics.Registry {
	if s.deps.Health != nil {
		return s.deps.Health
	}
	return metrics.Default()
}

// healthHandler implements the /health endpoint. It answers 503 only when a
// critical component failed; a degraded runtime still serves.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	h := s.registry().Health()

	code := http.StatusOK
	if h.Status == metrics.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{
		Status:     h.Status,
		Timestamp:  h.Timestamp,
		Version:    s.opts.Version,
		Components: h.Components,
		Message:    h.Message,
	})
}

// readyHandler implements the /ready endpoint. Being offline does not make
// the runtime unready: writes are queued until the backend returns.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true
	var message string

	if s.deps.Store != nil {
		if _, err := s.deps.Store.Partitions(); err != nil {
			checks["storage"] = fmt.Sprintf("error: %v", err)
			ready = false
			message = "Storage not accessible"
		} else {
			checks["storage"] = "ok (" + s.deps.Store.Driver() + ")"
		}
	} else {
		checks["storage"] = "not initialized"
		ready = false
		message = "Storage not initialized"
	}

	if s.deps.Queue != nil {
		checks["queue"] = fmt.Sprintf("ok (%d pending)", s.deps.Queue.Len())
	} else {
		checks["queue"] = "not initialized"
		ready = false
		if message == "" {
			message = "Queue not initialized"
		}
	}

	if s.deps.Network != nil {
		if s.deps.Network.Online() {
			checks["network"] = "online"
		} else {
			checks["network"] = "offline"
		}
	}

	// Non-critical components are listed for diagnosis only
	for name, desc := range s.registry().Health().Components {
		if _, ok := checks[name]; !ok && metrics.RoleOf(name) != metrics.RoleCritical {
			checks[name] = desc
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}
