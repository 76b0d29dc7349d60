package opcuaexporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/opcuaexporter/internal/metrics"
	"github.com/jpalmerr/opcuaexporter/internal/opcua"
	"github.com/jpalmerr/opcuaexporter/internal/poller"
	"github.com/jpalmerr/opcuaexporter/internal/server"
	"github.com/jpalmerr/opcuaexporter/internal/store"
)

const defaultPort = 9840

// Exporter polls OPC UA endpoints and serves their node values as
// Prometheus gauges.
//
// Exporter is created using [New] with functional options and started with
// [Exporter.Start]. Every gauge is registered by New, so a scrape taken
// before the first poll already lists every configured series (as NaN).
//
// The typical lifecycle is:
//
//	exp, err := opcuaexporter.New(opcuaexporter.WithEndpoint(ep))
//	if err != nil {
//	    slog.Error("failed to create exporter", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	exp.Start(ctx) // blocks until context cancelled
type Exporter struct {
	endpoints     []Endpoint
	port          int
	certFile      string
	keyFile       string
	logger        *slog.Logger
	pollCallbacks []func(PollResult)

	registry        *metrics.Registry
	instrumentation *metrics.Instrumentation
	targets         []poller.Target

	started atomic.Bool
}

// New creates an [Exporter] and registers a gauge for every node of every
// endpoint.
//
// At least one endpoint must be configured via [WithEndpoint] or
// [WithEndpoints]. The port defaults to 9840.
//
// Returns an error if no endpoints are configured, if two endpoints share
// a URL, or if any metric cannot be registered (invalid name, or a
// collision with a built-in collector). Nothing is polled or served when
// New fails.
func New(opts ...Option) (*Exporter, error) {
	cfg := &exporterConfig{
		port: defaultPort,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.endpoints) == 0 {
		return nil, errors.New("at least one endpoint is required")
	}

	// two pollers for one URL would write the same series
	seen := make(map[string]bool, len(cfg.endpoints))
	for _, ep := range cfg.endpoints {
		if seen[ep.url] {
			return nil, fmt.Errorf("duplicate endpoint URL: %q", ep.url)
		}
		seen[ep.url] = true
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := metrics.NewRegistry(logger)
	if err != nil {
		return nil, err
	}
	instrumentation, err := metrics.NewInstrumentation(registry.Registerer())
	if err != nil {
		return nil, err
	}

	targets := make([]poller.Target, 0, len(cfg.endpoints))
	for _, ep := range cfg.endpoints {
		bindings, err := registry.Bind(ep.url, nodeInfos(ep.nodes))
		if err != nil {
			return nil, err
		}

		dialer := cfg.dialer
		if dialer == nil {
			dialer = opcua.NewDialer(ep.timeout)
		}

		targets = append(targets, poller.Target{
			Endpoint: toEndpointInfo(ep),
			Dialer:   dialer,
			Bindings: bindings,
		})
	}

	return &Exporter{
		endpoints:       cfg.endpoints,
		port:            cfg.port,
		certFile:        cfg.certFile,
		keyFile:         cfg.keyFile,
		logger:          logger,
		pollCallbacks:   cfg.pollCallbacks,
		registry:        registry,
		instrumentation: instrumentation,
		targets:         targets,
	}, nil
}

// Start serves metrics and polls every endpoint until ctx is cancelled.
//
// Start is a blocking call. The metrics server is bound before the first
// poll; each endpoint then runs its own loop and never stops on error.
//
// Returns nil on graceful shutdown. Returns an error if the metrics server
// fails to start or stops unexpectedly. Start may only be called once.
func (e *Exporter) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("exporter already started")
	}

	e.logger.Info("opcua exporter starting",
		"endpoint_count", len(e.endpoints),
		"metric_count", e.registry.Len(),
	)

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	statusStore := store.NewMemoryStore()

	httpServer := server.NewServer(statusStore, e.registry.Gatherer(), server.Options{
		Port:       e.port,
		CertFile:   e.certFile,
		KeyFile:    e.keyFile,
		Registerer: e.registry.Registerer(),
	}, e.logger)
	if err := httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	scheduler := poller.NewScheduler(e.targets, e.instrumentation, e.logger)
	scheduler.Start(gctx)

	g.Go(func() error {
		e.consumeResults(scheduler.Results(), statusStore)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		scheduler.Stop() // closes results channel
		return nil
	})
	g.Go(func() error {
		if err := httpServer.Wait(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	err := g.Wait()
	e.logger.Info("opcua exporter stopped")
	return err
}

// consumeResults records every cycle in the status store and fans it out
// to callbacks. It returns when results is closed.
func (e *Exporter) consumeResults(results <-chan poller.CycleResult, st store.Store) {
	for r := range results {
		// store update first (callbacks fire after data is persisted)
		st.Update(toEndpointStatus(r))

		// each callback gets its own copy of the node slice
		for _, cb := range e.pollCallbacks {
			invokeCallbackSafe(cb, toPollResult(r), e.logger)
		}

		e.logger.Debug("poll completed",
			"server", r.URL,
			"status", r.Status(),
			"nodes_failed", r.Failed(),
			"duration_ms", r.Duration.Milliseconds(),
		)
	}
}

// Endpoints returns a copy of the configured endpoints.
func (e *Exporter) Endpoints() []Endpoint {
	cp := make([]Endpoint, len(e.endpoints))
	copy(cp, e.endpoints)
	return cp
}

// Port returns the configured metrics server port.
func (e *Exporter) Port() int {
	return e.port
}

// Gatherer returns the registry holding node gauges, exporter self-metrics
// and the Go and process collectors. Use it to serve metrics from an
// existing HTTP server instead of calling Start.
func (e *Exporter) Gatherer() prometheus.Gatherer {
	return e.registry.Gatherer()
}

func nodeInfos(nodes []Node) []metrics.NodeInfo {
	infos := make([]metrics.NodeInfo, len(nodes))
	for i, n := range nodes {
		infos[i] = metrics.NodeInfo{
			MetricName:  n.metricName,
			NodePath:    n.nodePath,
			Description: n.description,
		}
	}
	return infos
}

func toEndpointInfo(ep Endpoint) poller.EndpointInfo {
	info := poller.EndpointInfo{
		URL:         ep.url,
		Interval:    ep.refreshInterval,
		ReadTimeout: ep.timeout,
	}
	if ep.HasCredentials() {
		info.Credentials = &opcua.Credentials{
			Username: ep.username,
			Password: ep.password,
		}
	}
	return info
}

// toEndpointStatus converts a poller result to a store status.
func toEndpointStatus(r poller.CycleResult) store.EndpointStatus {
	status := store.EndpointStatus{
		Server:      r.URL,
		Status:      r.Status(),
		NodesFailed: r.Failed(),
		NodesOK:     len(r.Nodes) - r.Failed(),
		DurationMs:  r.Duration.Milliseconds(),
		CheckedAt:   r.CheckedAt,
		Error:       errString(r.Err),
		Nodes:       make([]store.NodeStatus, 0, len(r.Nodes)),
	}

	for _, n := range r.Nodes {
		ns := store.NodeStatus{
			Metric:   n.MetricName,
			NodePath: n.NodePath,
			Error:    errString(n.Err),
		}
		if n.Err == nil {
			v := n.Value
			ns.Value = &v
		}
		status.Nodes = append(status.Nodes, ns)
	}
	return status
}

// toPollResult converts a poller result to the public API type.
func toPollResult(r poller.CycleResult) PollResult {
	readings := make([]NodeReading, len(r.Nodes))
	for i, n := range r.Nodes {
		readings[i] = NodeReading{
			MetricName: n.MetricName,
			NodePath:   n.NodePath,
			Value:      n.Value,
			Err:        n.Err,
		}
	}

	return PollResult{
		URL:       r.URL,
		Status:    Status(r.Status()),
		Nodes:     readings,
		Duration:  r.Duration,
		CheckedAt: r.CheckedAt,
		Error:     r.Err,
	}
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

// invokeCallbackSafe calls a poll callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(PollResult), result PollResult, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("poll callback panicked",
				"panic", r,
				"server", result.URL,
			)
		}
	}()
	cb(result)
}
