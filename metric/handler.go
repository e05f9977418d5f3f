package metric

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/pkg/tlsutil"
)

// Server exposes the registry over HTTP together with a health endpoint.
type Server struct {
	port     int
	path     string
	server   *http.Server
	registry *MetricsRegistry
	tls      tlsutil.ServerConfig
	healthy  func() bool
	mu       sync.Mutex
}

// NewServer creates a metrics server. healthy may be nil, in which case
// /health always answers 200.
func NewServer(port int, path string, registry *MetricsRegistry, tlsCfg tlsutil.ServerConfig, healthy func() bool) *Server {
	if path == "" {
		path = "/metrics"
	}
	if port == 0 {
		port = 9090
	}
	if healthy == nil {
		healthy = func() bool { return true }
	}
	return &Server{port: port, path: path, registry: registry, tls: tlsCfg, healthy: healthy}
}

// Handler builds the HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.registry.PrometheusRegistry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if !s.healthy() {
			http.Error(w, "UNHEALTHY", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Start serves until Stop is called. It returns nil after a clean stop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("server already running"), "Server", "Start", "start metrics server")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(fmt.Errorf("nil registry"), "Server", "Start", "metrics registry not provided")
	}

	srv := &http.Server{Addr: fmt.Sprintf(":%d", s.port), Handler: s.Handler()}
	if s.tls.Enabled {
		tlsConfig, err := tlsutil.LoadServerTLSConfig(s.tls)
		if err != nil {
			s.mu.Unlock()
			return errors.WrapFatal(err, "Server", "Start", "load TLS config")
		}
		srv.TLSConfig = tlsConfig
	}
	s.server = srv
	s.mu.Unlock()

	var err error
	if s.tls.Enabled {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("serve on port %d", s.port))
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shut down HTTP server")
	}
	return nil
}

// Address returns the metrics URL.
func (s *Server) Address() string {
	scheme := "http"
	if s.tls.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://localhost:%d%s", scheme, s.port, s.path)
}
