package metrics

import (
	"sort"
	"sync"
	"time"
)

// Role decides how an unhealthy component affects the runtime status
type Role int

const (
	// RoleCritical components must be registered and healthy for the
	// runtime to be ready
	RoleCritical Role = iota

	// RoleDegraded components degrade health but keep the runtime ready
	RoleDegraded

	// RoleInfo components are reported only. Being offline is the normal
	// mode of an offline-first runtime.
	RoleInfo
)

// Components registered by the runtime
const (
	ComponentStorage = "storage"
	ComponentQueue   = "queue"
	ComponentAPI     = "api"
	ComponentProxy   = "proxy"
	ComponentData    = "data"
	ComponentNetwork = "network"
)

// Overall statuses
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// CriticalComponents gate readiness
var CriticalComponents = []string{ComponentStorage, ComponentQueue}

var roles = map[string]Role{
	ComponentStorage: RoleCritical,
	ComponentQueue:   RoleCritical,
	ComponentNetwork: RoleInfo,
}

// RoleOf returns the role of a component. Unlisted components degrade.
func RoleOf(name string) Role {
	if r, ok := roles[name]; ok {
		return r
	}
	return RoleDegraded
}

// ComponentHealth is the last reported state of one component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// describe renders the component for a status report
func (c ComponentHealth) describe() string {
	if RoleOf(c.Name) == RoleInfo {
		if c.Message != "" {
			return c.Message
		}
		if c.Healthy {
			return "up"
		}
		return "down"
	}
	if c.Healthy {
		return StatusHealthy
	}
	return StatusUnhealthy + ": " + c.Message
}

// HealthStatus is a health or readiness report
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// Registry holds the reported state of the runtime components
type Registry struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	startTime  time.Time
	version    string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry
func Default() *Registry {
	return defaultRegistry
}

// SetVersion sets the version reported by health responses
func (r *Registry) SetVersion(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version = version
}

// Update records the state of a component and mirrors it on
// amino_component_healthy
func (r *Registry) Update(name string, healthy bool, message string) {
	r.mu.Lock()
	r.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
	r.mu.Unlock()

	v := 0.0
	if healthy {
		v = 1
	}
	ComponentHealthy.WithLabelValues(name).Set(v)
}

// Component returns the last reported state of name
func (r *Registry) Component(name string) (ComponentHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	return c, ok
}

func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) report(status, message string, components map[string]string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    r.version,
		Uptime:     time.Since(r.startTime).Round(time.Second).String(),
	}
}

// Health is unhealthy when a critical component failed and degraded when any
// other non-informational component did
func (r *Registry) Health() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, message := StatusHealthy, ""
	components := make(map[string]string, len(r.components))
	for _, name := range r.sortedNames() {
		comp := r.components[name]
		components[name] = comp.describe()
		if comp.Healthy {
			continue
		}
		switch RoleOf(name) {
		case RoleCritical:
			if status != StatusUnhealthy {
				status, message = StatusUnhealthy, name+": "+comp.Message
			}
		case RoleDegraded:
			if status == StatusHealthy {
				status, message = StatusDegraded, name+": "+comp.Message
			}
		}
	}
	return r.report(status, message, components)
}

// Readiness is ready once every critical component is registered and
// healthy. Other components are listed but never block readiness.
func (r *Registry) Readiness() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, message := StatusReady, ""
	components := make(map[string]string, len(r.components))
	for _, name := range r.sortedNames() {
		components[name] = r.components[name].describe()
	}
	for _, name := range CriticalComponents {
		comp, ok := r.components[name]
		switch {
		case !ok:
			components[name] = "not registered"
			if status == StatusReady {
				status, message = StatusNotReady, "waiting for "+name+" initialization"
			}
		case !comp.Healthy:
			if status == StatusReady {
				status, message = StatusNotReady, name+": "+comp.Message
			}
		}
	}
	return r.report(status, message, components)
}

// SetVersion sets the version on the default registry
func SetVersion(version string) {
	defaultRegistry.SetVersion(version)
}

// RegisterComponent records a component on the default registry
func RegisterComponent(name string, healthy bool, message string) {
	defaultRegistry.Update(name, healthy, message)
}

// UpdateComponent records a component state change on the default registry
func UpdateComponent(name string, healthy bool, message string) {
	defaultRegistry.Update(name, healthy, message)
}

// GetHealth returns the health of the default registry
func GetHealth() HealthStatus {
	return defaultRegistry.Health()
}

// GetReadiness returns the readiness of the default registry
func GetReadiness() HealthStatus {
	return defaultRegistry.Readiness()
}
