package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jpalmerr/opcuaexporter/internal/store"
)

const (
	// shutdownTimeout bounds graceful shutdown of in-flight scrapes.
	shutdownTimeout = 5 * time.Second

	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
)

// Options configures the listener.
type Options struct {
	// Port is the TCP port to listen on. Zero lets the OS pick one.
	Port int

	// CertFile and KeyFile enable HTTPS when both are set.
	CertFile string
	KeyFile  string

	// Registerer, when set, receives the promhttp scrape counters.
	Registerer prometheus.Registerer
}

// TLSEnabled reports whether both certificate and key are configured.
func (o Options) TLSEnabled() bool {
	return o.CertFile != "" && o.KeyFile != ""
}

// Server handles HTTP requests for metrics and status.
//
// Server provides three endpoints:
//   - GET /metrics: Prometheus text exposition of the gatherer
//   - GET /api/status: latest poll status per endpoint as JSON
//   - GET /: landing page linking to the above
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store    store.Store
	gatherer prometheus.Gatherer
	opts     Options
	logger   *slog.Logger

	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
	serveErr   error
}

// NewServer creates a new HTTP [Server].
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, gatherer prometheus.Gatherer, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    st,
		gatherer: gatherer,
		opts:     opts,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Handler returns the request router. Exposed for tests and for embedding
// in another server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	var metricsHandler http.Handler = promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	})
	if s.opts.Registerer != nil {
		metricsHandler = promhttp.InstrumentMetricHandler(s.opts.Registerer, metricsHandler)
	}

	mux.Handle("/metrics", metricsHandler)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/", s.handleIndex)
	return mux
}

// Start binds the listener and begins serving in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The certificate pair is loaded here so a bad path fails
// startup instead of the first scrape. When ctx is cancelled the server
// shuts down gracefully with a 5-second timeout.
//
// Returns an error if the port cannot be bound or the TLS pair cannot be
// loaded. Start must not be called twice.
func (s *Server) Start(ctx context.Context) error {
	var tlsConfig *tls.Config
	if s.opts.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(s.opts.CertFile, s.opts.KeyFile)
		if err != nil {
			return fmt.Errorf("load tls key pair: %w", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.opts.Port, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.logger.Info("metrics server listening",
		"addr", ln.Addr().String(),
		"tls", tlsConfig != nil,
	)

	go func() {
		defer close(s.done)

		var err error
		if tlsConfig != nil {
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
			s.serveErr = err
		}
	}()

	// shutdown on context cancellation
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Wait blocks until the server has stopped serving. It returns nil after a
// graceful shutdown and the serve error otherwise. Wait returns at once if
// Start was never called successfully.
func (s *Server) Wait() error {
	if s.httpServer == nil {
		return nil
	}
	<-s.done
	return s.serveErr
}

// handleStatus returns endpoint statuses as JSON. With ?server=<url> it
// returns that endpoint only.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload any
	if server := r.URL.Query().Get("server"); server != "" {
		status, ok := s.store.Get(server)
		if !ok {
			http.Error(w, "Unknown server", http.StatusNotFound)
			return
		}
		payload = status
	} else {
		payload = s.store.GetAll()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode status response", "error", err)
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>OPC UA Exporter</title></head>
<body>
<h1>OPC UA Exporter</h1>
<p><a href="/metrics">Metrics</a> | <a href="/api/status">Status</a></p>
<table>
<tr><th>Server</th><th>Status</th><th>Nodes OK</th><th>Nodes failed</th><th>Checked</th></tr>
{{range .}}<tr><td>{{.Server}}</td><td>{{.Status}}</td><td>{{.NodesOK}}</td><td>{{.NodesFailed}}</td><td>{{.CheckedAt.Format "2006-01-02T15:04:05Z07:00"}}</td></tr>
{{end}}</table>
</body>
</html>
`))

// handleIndex serves the landing page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.store.GetAll()); err != nil {
		s.logger.Error("failed to write index response", "error", err)
	}
}
