package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/amino/pkg/log"
)

// CacheHeader reports how the proxy answered a request
const CacheHeader = "X-Amino-Cache"

// Proxy fronts the origin: GET requests go through the cache strategies,
// everything else is reverse proxied untouched
type Proxy struct {
	cache      *Cache
	addr       string
	reverse    *httputil.ReverseProxy
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewProxy creates a proxy listening on addr
func NewProxy(c *Cache, addr string) *Proxy {
	p := &Proxy{
		cache:  c,
		addr:   addr,
		logger: log.WithComponent("proxy"),
	}

	origin := c.opts.Origin
	rp := httputil.NewSingleHostReverseProxy(origin)
	director := rp.Director
	rp.Director = func(req *http.Request) {
		clientHost := req.Host
		director(req)
		req.Host = origin.Host
		req.Header.Set("X-Forwarded-Host", clientHost)
	}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.logger.Error().Err(err).Str("method", r.Method).Str("url", r.URL.Path).Msg("Upstream request failed")
		http.Error(w, "Bad gateway", http.StatusBadGateway)
	}
	p.reverse = rp

	return p
}

// ServeHTTP implements http.Handler
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		p.reverse.ServeHTTP(w, r)
		return
	}

	class := Classify(r)
	resp, err := p.cache.Handle(r.Context(), r)
	if err != nil {
		p.logger.Warn().Err(err).Str("class", string(class)).Str("url", r.URL.Path).Msg("No cached or network response")
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}

	p.logger.Debug().
		Str("class", string(class)).
		Str("tier", string(resp.Tier)).
		Str("source", string(resp.Source)).
		Str("url", r.URL.Path).
		Msg("Served")
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	h := w.Header()
	for k, vs := range resp.Header {
		switch http.CanonicalHeaderKey(k) {
		case "Connection", "Keep-Alive", "Transfer-Encoding", "Content-Length", "Content-Encoding":
			continue
		}
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	h.Set(CacheHeader, string(resp.Source))

	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (p *Proxy) Start(ctx context.Context) error {
	p.httpServer = &http.Server{
		Addr:         p.addr,
		Handler:      p,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.addr, err)
	}

	p.logger.Info().
		Str("addr", listener.Addr().String()).
		Str("origin", p.cache.opts.Origin.String()).
		Msg("Cache proxy listening")

	errCh := make(chan error, 1)
	go func() {
		if err := p.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("cache proxy failed: %w", err)
		}
	}

	p.logger.Info().Msg("Shutting down cache proxy")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown cache proxy: %w", err)
	}
	p.cache.Wait()
	return nil
}
