package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/amino/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Middleware handles rate limiting and access control for the admin API
type Middleware struct {
	rateLimiters map[string]*rate.Limiter
	mu           sync.Mutex
	limit        rate.Limit
	burst        int
	allowed      []string
	writers      []string
	origins      []string
	logger       zerolog.Logger
}

// NewMiddleware creates the middleware. An empty allowed list admits every
// client; writers lists the clients allowed to use unsafe methods, empty
// meaning everyone admitted.
func NewMiddleware(opts Options, logger zerolog.Logger) *Middleware {
	return &Middleware{
		rateLimiters: make(map[string]*rate.Limiter),
		limit:        rate.Limit(opts.RateLimit),
		burst:        opts.RateBurst,
		allowed:      opts.AllowedIPs,
		writers:      opts.WriteIPs,
		origins:      opts.CORSOrigins,
		logger:       logger,
	}
}

// AccessControl rejects clients outside the allow list and unsafe methods
// from clients outside the write list
func (m *Middleware) AccessControl(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := getClientIP(r)
		ip := net.ParseIP(clientIP)
		if ip == nil {
			m.logger.Warn().Str("client", clientIP).Msg("Invalid client IP")
			writeError(w, http.StatusForbidden, "invalid client IP")
			return
		}
		if len(m.allowed) > 0 && !matchAny(ip, m.allowed) {
			m.logger.Warn().Str("client", clientIP).Msg("Access denied (not in allow list)")
			writeError(w, http.StatusForbidden, "access denied")
			return
		}
		if !isReadOnlyMethod(r.Method) && len(m.writers) > 0 && !matchAny(ip, m.writers) {
			m.logger.Warn().Str("client", clientIP).Str("method", r.Method).Str("path", r.URL.Path).Msg("Write denied")
			writeError(w, http.StatusForbidden, "write operations are not allowed from this address")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isReadOnlyMethod reports whether the method cannot change state
func isReadOnlyMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// RateLimit applies a token bucket per client IP. A zero limit disables it.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)
		m.mu.Lock()
		limiter, exists := m.rateLimiters[clientIP]
		if !exists {
			if len(m.rateLimiters) > 10000 {
				m.rateLimiters = make(map[string]*rate.Limiter)
			}
			limiter = rate.NewLimiter(m.limit, m.burst)
			m.rateLimiters[clientIP] = limiter
		}
		m.mu.Unlock()

		if !limiter.Allow() {
			m.logger.Warn().Str("client", clientIP).Msg("Rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORS lets the web UI call the API from its own origin
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && m.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) originAllowed(origin string) bool {
	for _, o := range m.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Instrument records request counts, latency and an access log line
func (m *Middleware) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		elapsed := time.Since(start)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())

		m.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request")
	})
}

// getClientIP returns the peer address. Forwarding headers are ignored: the
// API is served directly and a client could forge them.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func matchAny(ip net.IP, rules []string) bool {
	for _, rule := range rules {
		if matchCIDR(ip, rule) {
			return true
		}
	}
	return false
}

// matchCIDR checks if an IP matches a CIDR range or a single address
func matchCIDR(ip net.IP, cidr string) bool {
	if !strings.Contains(cidr, "/") {
		parsed := net.ParseIP(cidr)
		return parsed != nil && ip.Equal(parsed)
	}
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	return ipNet.Contains(ip)
}
