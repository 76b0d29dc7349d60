package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/opcuaexporter/internal/metrics"
	"github.com/jpalmerr/opcuaexporter/internal/opcua"
)

// DefaultInterval is used when an [EndpointInfo] has no interval set.
const DefaultInterval = 10 * time.Second

// closeTimeout bounds how long closing a broken session may take.
const closeTimeout = 5 * time.Second

// EndpointInfo contains the configuration needed to poll a single endpoint.
//
// This is the poller-internal representation of an endpoint, decoupled from
// the main opcuaexporter.Endpoint type to avoid circular dependencies.
type EndpointInfo struct {
	// URL is the endpoint address. It is also the server label value.
	URL string

	// Credentials selects username authentication. Nil means anonymous.
	Credentials *opcua.Credentials

	// Interval is the wait between the end of one cycle and the start of
	// the next.
	Interval time.Duration

	// ReadTimeout bounds the connection attempt and each node read.
	// Zero leaves the protocol client's own timeout in charge.
	ReadTimeout time.Duration
}

// NodeResult is the outcome of reading one node in a cycle.
type NodeResult struct {
	MetricName string
	NodePath   string

	// Value is the exported value; NaN when Err is set.
	Value float64
	Err   error
}

// CycleResult holds the outcome of one poll cycle of one endpoint.
type CycleResult struct {
	// URL identifies the endpoint.
	URL string

	// Connected reports whether a session was available for the cycle.
	Connected bool

	// Err is the endpoint-level error when Connected is false.
	Err error

	// Nodes lists per-node outcomes in configured order. It is empty when
	// the connection failed.
	Nodes []NodeResult

	// Duration is the time spent connecting and reading, without the wait.
	Duration time.Duration

	// CheckedAt is when the cycle finished.
	CheckedAt time.Time
}

// Failed returns how many node reads failed in the cycle.
func (r CycleResult) Failed() int {
	n := 0
	for _, nr := range r.Nodes {
		if nr.Err != nil {
			n++
		}
	}
	return n
}

// Status summarises the cycle as "up", "degraded" (connected, some reads
// failed) or "down".
func (r CycleResult) Status() string {
	switch {
	case !r.Connected:
		return "down"
	case r.Failed() > 0:
		return "degraded"
	default:
		return "up"
	}
}

// EndpointPoller maintains one endpoint's gauges for as long as it runs.
//
// States: connect (skipped while a healthy session is held), read every
// binding in order, wait for the interval. Any error in a cycle drops the
// session so the next cycle reconnects. An EndpointPoller is not safe for
// concurrent use; each one is driven by a single goroutine.
type EndpointPoller struct {
	info     EndpointInfo
	dialer   opcua.Dialer
	bindings []metrics.Binding
	recorder metrics.Recorder
	logger   *slog.Logger

	conn opcua.Connection
}

// NewEndpointPoller creates a poller for one endpoint. bindings must already
// be registered; the poller only writes to them.
func NewEndpointPoller(info EndpointInfo, dialer opcua.Dialer, bindings []metrics.Binding, recorder metrics.Recorder, logger *slog.Logger) *EndpointPoller {
	if info.Interval <= 0 {
		info.Interval = DefaultInterval
	}
	if recorder == nil {
		recorder = metrics.NullRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &EndpointPoller{
		info:     info,
		dialer:   dialer,
		bindings: bindings,
		recorder: recorder,
		logger:   logger.With("server", info.URL),
	}
}

// URL returns the endpoint address.
func (p *EndpointPoller) URL() string {
	return p.info.URL
}

// Run polls until ctx is cancelled. Errors never end the loop.
func (p *EndpointPoller) Run(ctx context.Context) {
	p.run(ctx, nil)
}

// run is Run with an optional hook called after every completed cycle.
func (p *EndpointPoller) run(ctx context.Context, emit func(CycleResult)) {
	defer p.closeConn(ctx)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		result := p.PollOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if emit != nil {
			emit(result)
		}

		timer.Reset(p.info.Interval)
	}
}

// PollOnce runs a single cycle: connect if needed, then read every binding
// in configured order.
func (p *EndpointPoller) PollOnce(ctx context.Context) CycleResult {
	start := time.Now()
	result := CycleResult{URL: p.info.URL}

	if p.conn == nil {
		conn, err := p.connect(ctx)
		if err != nil {
			result.Err = err
			if ctx.Err() != nil {
				return p.finish(result, start)
			}

			p.markAllNaN()
			p.logConnectError(err)
			p.recorder.ConnectFailed(p.info.URL)
			return p.finish(result, start)
		}
		p.conn = conn
	}
	result.Connected = true

	result.Nodes = make([]NodeResult, 0, len(p.bindings))
	for _, b := range p.bindings {
		if ctx.Err() != nil {
			break
		}

		nr := NodeResult{MetricName: b.MetricName, NodePath: b.NodePath}
		v, err := p.readNode(ctx, b.NodePath)
		if err != nil && ctx.Err() != nil {
			// shutdown, not a node failure
			break
		}
		if err != nil {
			b.Gauge.SetNaN(p.info.URL)
			p.recorder.ReadFailed(p.info.URL)
			p.logger.Error("node read failed",
				"metric", b.MetricName,
				"node_path", b.NodePath,
				"error", err,
			)
			nr.Value = math.NaN()
			nr.Err = err
		} else {
			b.Gauge.Set(p.info.URL, v)
			p.logger.Debug("node read",
				"metric", b.MetricName,
				"node_path", b.NodePath,
				"value", v,
			)
			nr.Value = v
		}
		result.Nodes = append(result.Nodes, nr)
	}

	// a failed read may have left the session unusable
	if result.Failed() > 0 {
		p.closeConn(ctx)
	}

	return p.finish(result, start)
}

func (p *EndpointPoller) finish(result CycleResult, start time.Time) CycleResult {
	result.Duration = time.Since(start)
	result.CheckedAt = time.Now()
	p.recorder.ObservePoll(p.info.URL, result.Duration, result.Connected)
	return result
}

func (p *EndpointPoller) connect(ctx context.Context) (opcua.Connection, error) {
	ctx, cancel := p.withReadTimeout(ctx)
	defer cancel()

	conn, err := p.safeDial(ctx)
	if err != nil {
		var ce *opcua.ConnectError
		if !errors.As(err, &ce) {
			err = &opcua.ConnectError{URL: p.info.URL, Err: err}
		}
		return nil, err
	}

	p.logger.Info("connected to endpoint")
	return conn, nil
}

// readNode reads and converts one node value. Every failure comes back as
// a *opcua.ReadError.
func (p *EndpointPoller) readNode(ctx context.Context, nodePath string) (float64, error) {
	ctx, cancel := p.withReadTimeout(ctx)
	defer cancel()

	raw, err := p.safeRead(ctx, nodePath)
	if err != nil {
		var re *opcua.ReadError
		if !errors.As(err, &re) {
			err = &opcua.ReadError{NodePath: nodePath, Err: err}
		}
		return math.NaN(), err
	}

	v, err := opcua.Float64(raw)
	if err != nil {
		return math.NaN(), &opcua.ReadError{NodePath: nodePath, Err: err}
	}
	return v, nil
}

// safeDial calls the dialer with panic recovery. A panic becomes a
// connect error carrying the correlation ID of the logged stack trace.
func (p *EndpointPoller) safeDial(ctx context.Context) (conn opcua.Connection, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := p.logPanic("endpoint dial panic", r)
			conn = nil
			err = &opcua.ConnectError{
				URL: p.info.URL,
				Err: fmt.Errorf("dial panic (correlation_id: %s)", correlationID),
			}
		}
	}()
	return p.dialer.Dial(ctx, p.info.URL, p.info.Credentials)
}

// safeRead calls the connection with panic recovery.
// If the read panics, it logs the full stack trace with a correlation ID
// and returns an error containing the ID.
func (p *EndpointPoller) safeRead(ctx context.Context, nodePath string) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := p.logPanic("node read panic", r, "node_path", nodePath)
			v = nil
			err = fmt.Errorf("read panic (correlation_id: %s)", correlationID)
		}
	}()
	return p.conn.ReadValue(ctx, nodePath)
}

// logPanic logs a recovered panic with its stack and returns the
// correlation ID attached to the log line.
func (p *EndpointPoller) logPanic(msg string, r any, attrs ...any) string {
	correlationID := uuid.NewString()
	attrs = append(attrs,
		"correlation_id", correlationID,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()),
	)
	p.logger.Error(msg, attrs...)
	return correlationID
}

func (p *EndpointPoller) withReadTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.info.ReadTimeout > 0 {
		return context.WithTimeout(ctx, p.info.ReadTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *EndpointPoller) markAllNaN() {
	for _, b := range p.bindings {
		b.Gauge.SetNaN(p.info.URL)
	}
}

func (p *EndpointPoller) logConnectError(err error) {
	if opcua.IsNameResolution(err) {
		p.logger.Error("cannot resolve endpoint host", "error", err)
		return
	}
	p.logger.Error("cannot connect to endpoint", "error", err)
}

// closeConn drops the current session, if any. It still runs after ctx is
// cancelled so the server can release the session.
func (p *EndpointPoller) closeConn(ctx context.Context) {
	if p.conn == nil {
		return
	}
	conn := p.conn
	p.conn = nil

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		p.logger.Debug("closing session", "error", err)
	}
}
