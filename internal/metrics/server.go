package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the /metrics HTTP endpoint: a registry holding one
// Collector plus the stdlib process/Go collectors, served by a plain
// net/http.Server. It never touches loop-owned state itself — Collect
// is the only place that happens, and that runs on the scrape
// goroutine, reading under each component's own lock.
type Server struct {
	registry *prometheus.Registry
	http     *http.Server
}

// NewServer registers collector (plus the standard process/Go runtime
// collectors) and binds a /metrics handler on addr. The server is not
// started until Serve is called.
func NewServer(addr string, collector *Collector) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	reg.MustRegister(prometheus.NewGoCollector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &Server{
		registry: reg,
		http:     &http.Server{Addr: addr, Handler: mux},
	}
}

// Serve blocks, serving /metrics until Shutdown is called, matching
// spec §5's "net/http server at the edges, never mutating loop state".
func (s *Server) Serve() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
