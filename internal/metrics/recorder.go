package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives poll outcomes for the exporter's own metrics.
//
// Implementations:
//   - Instrumentation: Prometheus counters, gauges and histograms
//   - NullRecorder: no-op, for tests and embedded use without self-metrics
type Recorder interface {
	// ConnectFailed counts a failed session attempt for server.
	ConnectFailed(server string)

	// ReadFailed counts a failed node read for server.
	ReadFailed(server string)

	// ObservePoll records the duration of a completed cycle and whether
	// the endpoint was reachable during it.
	ObservePoll(server string, d time.Duration, connected bool)
}

// Instrumentation exports per-endpoint poll health under the
// opcua_exporter_ prefix.
type Instrumentation struct {
	up              *prometheus.GaugeVec
	connectFailures *prometheus.CounterVec
	readFailures    *prometheus.CounterVec
	pollDuration    *prometheus.HistogramVec
}

// NewInstrumentation creates the self-metrics and registers them with reg.
func NewInstrumentation(reg prometheus.Registerer) (*Instrumentation, error) {
	in := &Instrumentation{
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "opcua_exporter",
			Name:      "server_up",
			Help:      "Whether the last poll cycle connected to the server (1) or not (0).",
		}, []string{ServerLabel}),
		connectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opcua_exporter",
			Name:      "connect_failures_total",
			Help:      "Failed connection attempts per server.",
		}, []string{ServerLabel}),
		readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opcua_exporter",
			Name:      "read_failures_total",
			Help:      "Failed node reads per server.",
		}, []string{ServerLabel}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "opcua_exporter",
			Name:      "poll_duration_seconds",
			Help:      "Duration of one poll cycle per server, excluding the wait between cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{ServerLabel}),
	}

	for _, c := range []prometheus.Collector{in.up, in.connectFailures, in.readFailures, in.pollDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register exporter metrics: %w", err)
		}
	}
	return in, nil
}

// ConnectFailed implements [Recorder].
func (in *Instrumentation) ConnectFailed(server string) {
	in.connectFailures.WithLabelValues(server).Inc()
}

// ReadFailed implements [Recorder].
func (in *Instrumentation) ReadFailed(server string) {
	in.readFailures.WithLabelValues(server).Inc()
}

// ObservePoll implements [Recorder].
func (in *Instrumentation) ObservePoll(server string, d time.Duration, connected bool) {
	in.pollDuration.WithLabelValues(server).Observe(d.Seconds())
	if connected {
		in.up.WithLabelValues(server).Set(1)
	} else {
		in.up.WithLabelValues(server).Set(0)
	}
}

// NullRecorder is a no-op [Recorder].
type NullRecorder struct{}

// ConnectFailed is a no-op.
func (NullRecorder) ConnectFailed(string) {}

// ReadFailed is a no-op.
func (NullRecorder) ReadFailed(string) {}

// ObservePoll is a no-op.
func (NullRecorder) ObservePoll(string, time.Duration, bool) {}

// Compile-time verification that both implementations satisfy Recorder
var (
	_ Recorder = (*Instrumentation)(nil)
	_ Recorder = NullRecorder{}
)
