// Package metrics owns the process-scoped Prometheus registry and the
// mapping from metric names to gauges.
//
// Every distinct metric name gets exactly one [Gauge], no matter how many
// endpoints report into it. Writes are partitioned by the [ServerLabel]
// label, so pollers for different endpoints never touch the same series.
package metrics

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

// ServerLabel is the label carried on every node gauge write. Its value is
// the URL of the endpoint that produced the reading.
const ServerLabel = "server"

// NodeInfo describes one monitored data point of an endpoint.
type NodeInfo struct {
	MetricName  string
	NodePath    string
	Description string
}

// Binding pairs one monitored node with the gauge it is exported through.
// Bindings are created once at startup and never mutated.
type Binding struct {
	MetricName string
	NodePath   string
	Gauge      *Gauge
}

// Gauge is a named gauge whose series are keyed by endpoint URL.
type Gauge struct {
	name string
	help string
	vec  *prometheus.GaugeVec
}

// Name returns the exported metric name.
func (g *Gauge) Name() string {
	return g.name
}

// Set writes v to the series for server.
func (g *Gauge) Set(server string, v float64) {
	g.vec.WithLabelValues(server).Set(v)
}

// SetNaN marks the series for server as unreadable.
func (g *Gauge) SetNaN(server string) {
	g.Set(server, math.NaN())
}

// Value returns the current value of the series for server.
// A series that was never written reads as 0.
func (g *Gauge) Value(server string) float64 {
	m := &dto.Metric{}
	if err := g.vec.WithLabelValues(server).Write(m); err != nil {
		return math.NaN()
	}
	return m.GetGauge().GetValue()
}

// Registry creates gauges on a single [prometheus.Registry] that lives for
// the whole process. It is safe for concurrent use.
type Registry struct {
	reg    *prometheus.Registry
	logger *slog.Logger

	mu     sync.Mutex
	gauges map[string]*Gauge
}

// NewRegistry creates a Registry backed by a fresh [prometheus.Registry]
// with the Go runtime and process collectors already registered.
func NewRegistry(logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}

	return &Registry{
		reg:    reg,
		logger: logger,
		gauges: make(map[string]*Gauge),
	}, nil
}

// Gatherer returns the registry for use by an exposition handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Registerer returns the registry for registering additional collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.reg
}

// Gauge returns the gauge registered under name, creating and registering
// it on first use.
//
// Later calls with the same name return the same Gauge; a differing help
// text is ignored with a warning. Registration fails if name is not a valid
// metric name or collides with a collector already in the registry.
func (r *Registry) Gauge(name, help string) (*Gauge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[name]; ok {
		if help != "" && help != g.help {
			r.logger.Warn("metric description differs from first declaration, keeping first",
				"metric", name,
				"description", g.help,
				"ignored", help,
			)
		}
		return g, nil
	}

	// the exposition format rejects an empty HELP, so fall back to the name
	desc := help
	if desc == "" {
		desc = name
	}

	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name,
		Help: desc,
	}, []string{ServerLabel})
	if err := r.reg.Register(vec); err != nil {
		return nil, fmt.Errorf("register metric %q: %w", name, err)
	}

	g := &Gauge{name: name, help: help, vec: vec}
	r.gauges[name] = g
	return g, nil
}

// Bind resolves a gauge for every node of server, in order.
//
// Each binding's series is initialised to NaN so a scrape taken before the
// first poll already lists every configured series. Binding the same
// metric name twice for one server is an error: both nodes would write the
// same series.
func (r *Registry) Bind(server string, nodes []NodeInfo) ([]Binding, error) {
	bindings := make([]Binding, 0, len(nodes))
	seen := make(map[string]struct{}, len(nodes))

	for _, n := range nodes {
		if _, dup := seen[n.MetricName]; dup {
			return nil, fmt.Errorf("server %s: metric %q bound to more than one node", server, n.MetricName)
		}
		seen[n.MetricName] = struct{}{}

		g, err := r.Gauge(n.MetricName, n.Description)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", server, err)
		}
		g.SetNaN(server)

		bindings = append(bindings, Binding{
			MetricName: n.MetricName,
			NodePath:   n.NodePath,
			Gauge:      g,
		})
	}

	return bindings, nil
}

// Len returns the number of distinct gauges created so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.gauges)
}
