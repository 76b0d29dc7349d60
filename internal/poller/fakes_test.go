package poller

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/opcuaexporter/internal/metrics"
	"github.com/jpalmerr/opcuaexporter/internal/opcua"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// bind registers nodes for server on a fresh registry.
func bind(t *testing.T, reg *metrics.Registry, server string, nodes ...metrics.NodeInfo) []metrics.Binding {
	t.Helper()
	bindings, err := reg.Bind(server, nodes)
	if err != nil {
		t.Fatalf("Bind(%s) error = %v", server, err)
	}
	return bindings
}

func newRegistry(t *testing.T) *metrics.Registry {
	t.Helper()
	reg, err := metrics.NewRegistry(testLogger())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

// fakeConn serves values from a map. Nodes listed in panics panic on read;
// nodes listed in block wait for the read context to end.
type fakeConn struct {
	mu     sync.Mutex
	values map[string]any
	panics map[string]bool
	block  map[string]bool
	reads  []string
	closed int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		values: make(map[string]any),
		panics: make(map[string]bool),
		block:  make(map[string]bool),
	}
}

func (c *fakeConn) set(nodePath string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[nodePath] = v
}

func (c *fakeConn) ReadValue(ctx context.Context, nodePath string) (any, error) {
	c.mu.Lock()
	c.reads = append(c.reads, nodePath)
	v, ok := c.values[nodePath]
	shouldPanic := c.panics[nodePath]
	shouldBlock := c.block[nodePath]
	c.mu.Unlock()

	if shouldPanic {
		panic("decoder exploded")
	}
	if shouldBlock {
		<-ctx.Done()
		return nil, &opcua.ReadError{NodePath: nodePath, Err: ctx.Err()}
	}
	if !ok {
		return nil, &opcua.ReadError{NodePath: nodePath, Err: errNodeUnknown}
	}
	return v, nil
}

func (c *fakeConn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) readLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.reads))
	copy(out, c.reads)
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out conn, or err when set, and records dial times.
type fakeDialer struct {
	mu    sync.Mutex
	conn  *fakeConn
	err   error
	block bool
	dials []time.Time
}

func (d *fakeDialer) Dial(ctx context.Context, url string, _ *opcua.Credentials) (opcua.Connection, error) {
	d.mu.Lock()
	d.dials = append(d.dials, time.Now())
	conn, err, block := d.conn, d.err, d.block
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, &opcua.ConnectError{URL: url, Err: ctx.Err()}
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) dialTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]time.Time, len(d.dials))
	copy(out, d.dials)
	return out
}

// countingRecorder counts recorder calls.
type countingRecorder struct {
	mu              sync.Mutex
	connectFailures int
	readFailures    int
	polls           int
	lastConnected   bool
}

func (r *countingRecorder) ConnectFailed(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectFailures++
}

func (r *countingRecorder) ReadFailed(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readFailures++
}

func (r *countingRecorder) ObservePoll(_ string, _ time.Duration, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
	r.lastConnected = connected
}
