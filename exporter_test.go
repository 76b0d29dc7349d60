package opcuaexporter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/opcuaexporter/internal/opcua"
	"github.com/jpalmerr/opcuaexporter/internal/poller"
	"github.com/jpalmerr/opcuaexporter/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// freePort asks the OS for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// scriptedConn returns whatever value or error is currently scripted for a
// node path.
type scriptedConn struct {
	mu     sync.Mutex
	values map[string]any
	errs   map[string]error
}

func newScriptedConn(values map[string]any) *scriptedConn {
	return &scriptedConn{values: values, errs: make(map[string]error)}
}

func (c *scriptedConn) fail(nodePath string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[nodePath] = err
}

func (c *scriptedConn) ReadValue(_ context.Context, nodePath string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.errs[nodePath]; err != nil {
		return nil, &opcua.ReadError{NodePath: nodePath, Err: err}
	}
	v, ok := c.values[nodePath]
	if !ok {
		return nil, &opcua.ReadError{NodePath: nodePath, Err: errors.New("BadNodeIdUnknown")}
	}
	return v, nil
}

func (c *scriptedConn) Close(context.Context) error { return nil }

// scriptedDialer connects each URL to its scripted connection, or fails
// with the scripted error.
type scriptedDialer struct {
	conns map[string]*scriptedConn
	errs  map[string]error
	dials atomic.Int32
}

func (d *scriptedDialer) Dial(_ context.Context, url string, _ *opcua.Credentials) (opcua.Connection, error) {
	d.dials.Add(1)
	if err, ok := d.errs[url]; ok {
		return nil, &opcua.ConnectError{URL: url, Err: err}
	}
	if c, ok := d.conns[url]; ok {
		return c, nil
	}
	return nil, &opcua.ConnectError{URL: url, Err: errors.New("connection refused")}
}

func scrape(t *testing.T, port int, path string) string {
	t.Helper()
	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + path)
	if err != nil {
		return ""
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

// waitForMetrics polls /metrics until every want line is present.
func waitForMetrics(t *testing.T, port int, want ...string) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		body := scrape(t, port, "/metrics")
		missing := ""
		for _, w := range want {
			if !strings.Contains(body, w) {
				missing = w
				break
			}
		}
		if missing == "" {
			return body
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %q in /metrics:\n%s", missing, body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// startExporter runs exp.Start in the background and returns a stop func
// that cancels it and returns Start's error.
func startExporter(t *testing.T, exp *Exporter) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- exp.Start(ctx) }()

	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("Start() did not return after cancel")
			return nil
		}
	}
}

func TestExporter_ReadFailureScenario(t *testing.T) {
	conn := newScriptedConn(map[string]any{
		"ns=2;s=Temp":     21.5,
		"ns=2;s=Pressure": float32(1.25),
	})
	dialer := &scriptedDialer{conns: map[string]*scriptedConn{"opc.tcp://a": conn}}

	ep, err := NewEndpoint("opc.tcp://a",
		WithRefreshInterval(20*time.Millisecond),
		WithNodes(mustNode(t, "temp", "ns=2;s=Temp"), mustNode(t, "pressure", "ns=2;s=Pressure")),
	)
	if err != nil {
		t.Fatalf("NewEndpoint() error = %v", err)
	}

	port := freePort(t)
	exp, err := New(WithEndpoint(ep), WithPort(port), WithLogger(testLogger()), withDialer(dialer))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stop := startExporter(t, exp)

	waitForMetrics(t, port,
		`temp{server="opc.tcp://a"} 21.5`,
		`pressure{server="opc.tcp://a"} 1.25`,
	)

	conn.fail("ns=2;s=Temp", errors.New("BadNodeIdUnknown"))

	// the gauge is set before the failure is counted, so wait for both
	body := waitForMetrics(t, port,
		`temp{server="opc.tcp://a"} NaN`,
		`opcua_exporter_read_failures_total{server="opc.tcp://a"}`,
	)
	if !strings.Contains(body, `pressure{server="opc.tcp://a"} 1.25`) {
		t.Errorf("pressure perturbed by sibling failure:\n%s", body)
	}

	if err := stop(); err != nil {
		t.Errorf("Start() = %v, want nil on graceful shutdown", err)
	}
}

func TestExporter_NameResolutionScenario(t *testing.T) {
	healthy := newScriptedConn(map[string]any{"ns=2;s=Temp": 19.0, "ns=2;s=Pressure": 2.0})
	dialer := &scriptedDialer{
		conns: map[string]*scriptedConn{"opc.tcp://b": healthy},
		errs: map[string]error{
			"opc.tcp://a": &net.DNSError{Err: "no such host", Name: "a", IsNotFound: true},
		},
	}

	nodes := WithNodes(mustNode(t, "temp", "ns=2;s=Temp"), mustNode(t, "pressure", "ns=2;s=Pressure"))
	epA, err := NewEndpoint("opc.tcp://a", WithRefreshInterval(20*time.Millisecond), nodes)
	if err != nil {
		t.Fatalf("NewEndpoint(a) error = %v", err)
	}
	epB, err := NewEndpoint("opc.tcp://b", WithRefreshInterval(20*time.Millisecond), nodes)
	if err != nil {
		t.Fatalf("NewEndpoint(b) error = %v", err)
	}

	port := freePort(t)
	exp, err := New(WithEndpoints(epA, epB), WithPort(port), WithLogger(testLogger()), withDialer(dialer))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stop := startExporter(t, exp)

	body := waitForMetrics(t, port,
		`temp{server="opc.tcp://b"} 19`,
		`pressure{server="opc.tcp://b"} 2`,
		`opcua_exporter_server_up{server="opc.tcp://a"} 0`,
		`opcua_exporter_server_up{server="opc.tcp://b"} 1`,
	)
	for _, want := range []string{
		`temp{server="opc.tcp://a"} NaN`,
		`pressure{server="opc.tcp://a"} NaN`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q:\n%s", want, body)
		}
	}

	// the unreachable endpoint keeps being retried
	before := dialer.dials.Load()
	time.Sleep(100 * time.Millisecond)
	if after := dialer.dials.Load(); after <= before {
		t.Errorf("dial attempts did not grow: %d -> %d", before, after)
	}

	// the store is updated after metrics, so wait for both entries
	var statuses []store.EndpointStatus
	deadline := time.Now().Add(3 * time.Second)
	for {
		statuses = nil
		if err := json.Unmarshal([]byte(scrape(t, port, "/api/status")), &statuses); err != nil {
			t.Fatalf("decode /api/status: %v", err)
		}
		if len(statuses) == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(statuses) != 2 || statuses[0].Status != "down" || statuses[1].Status != "up" {
		t.Errorf("statuses = %+v, want a down and b up", statuses)
	}

	if err := stop(); err != nil {
		t.Errorf("Start() = %v, want nil on graceful shutdown", err)
	}
}

func TestExporter_SeriesExistBeforeFirstPoll(t *testing.T) {
	ep := mustEndpoint(t, "opc.tcp://a", mustNode(t, "temp", "ns=2;s=Temp"))

	exp, err := New(WithEndpoint(ep), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	families, err := exp.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "temp" {
			continue
		}
		if len(mf.GetMetric()) != 1 {
			t.Fatalf("temp series = %d, want 1", len(mf.GetMetric()))
		}
		if v := mf.GetMetric()[0].GetGauge().GetValue(); !math.IsNaN(v) {
			t.Errorf("temp before first poll = %v, want NaN", v)
		}
		return
	}
	t.Error("temp not registered before Start")
}

func TestStart_BlocksUntilContextCancelled(t *testing.T) {
	dialer := &scriptedDialer{}
	ep := mustEndpoint(t, "opc.tcp://a")

	exp, err := New(WithEndpoint(ep), WithPort(freePort(t)), WithLogger(testLogger()), withDialer(dialer))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- exp.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)

	// verify Start is still blocking
	select {
	case err := <-done:
		t.Fatalf("Start() returned early with error: %v", err)
	default:
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

func TestStart_AlreadyCancelledContext(t *testing.T) {
	exp, err := New(WithEndpoint(mustEndpoint(t, "opc.tcp://a")), WithLogger(testLogger()), withDialer(&scriptedDialer{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := exp.Start(ctx); err != nil {
		t.Errorf("Start() = %v, want nil", err)
	}
}

func TestStart_Twice(t *testing.T) {
	exp, err := New(WithEndpoint(mustEndpoint(t, "opc.tcp://a")), WithPort(freePort(t)), WithLogger(testLogger()), withDialer(&scriptedDialer{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	stop := startExporter(t, exp)
	time.Sleep(20 * time.Millisecond)

	if err := exp.Start(context.Background()); err == nil {
		t.Error("second Start() expected error, got nil")
	}

	if err := stop(); err != nil {
		t.Errorf("Start() = %v, want nil", err)
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	dialer := &scriptedDialer{}
	exp, err := New(WithEndpoint(mustEndpoint(t, "opc.tcp://a")), WithPort(port), WithLogger(testLogger()), withDialer(dialer))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = exp.Start(context.Background())
	if err == nil {
		t.Fatal("Start() on occupied port should return error")
	}
	if !strings.Contains(err.Error(), "failed to start HTTP server") {
		t.Errorf("error = %v, want failed to start HTTP server", err)
	}
	if n := dialer.dials.Load(); n != 0 {
		t.Errorf("dial attempts = %d, want 0 when the server cannot start", n)
	}
}

func TestWithPollCallback_ReceivesResults(t *testing.T) {
	conn := newScriptedConn(map[string]any{"ns=2;s=Temp": int16(-4)})
	dialer := &scriptedDialer{conns: map[string]*scriptedConn{"opc.tcp://a": conn}}

	ep, err := NewEndpoint("opc.tcp://a",
		WithRefreshInterval(20*time.Millisecond),
		WithNodes(mustNode(t, "temp", "ns=2;s=Temp"), mustNode(t, "missing", "ns=2;s=Missing")),
	)
	if err != nil {
		t.Fatalf("NewEndpoint() error = %v", err)
	}

	var (
		mu     sync.Mutex
		first  PollResult
		called bool
	)
	got := make(chan struct{})
	var second atomic.Int32

	exp, err := New(
		WithEndpoint(ep),
		WithPort(freePort(t)),
		WithLogger(testLogger()),
		withDialer(dialer),
		WithPollCallback(func(r PollResult) {
			panic("callback bug")
		}),
		WithPollCallback(func(r PollResult) {
			mu.Lock()
			defer mu.Unlock()
			if !called {
				called = true
				first = r
				close(got)
			}
		}),
		WithPollCallback(func(r PollResult) {
			second.Add(1)
		}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stop := startExporter(t, exp)

	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for poll callback")
	}
	if err := stop(); err != nil {
		t.Errorf("Start() = %v, want nil", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if first.URL != "opc.tcp://a" {
		t.Errorf("URL = %q, want opc.tcp://a", first.URL)
	}
	if first.Status != StatusDegraded {
		t.Errorf("Status = %q, want %q", first.Status, StatusDegraded)
	}
	if len(first.Nodes) != 2 {
		t.Fatalf("len(Nodes) = %d, want 2", len(first.Nodes))
	}
	if first.Nodes[0].Value != -4 || first.Nodes[0].Err != nil {
		t.Errorf("temp reading = %+v, want -4", first.Nodes[0])
	}
	if !math.IsNaN(first.Nodes[1].Value) || first.Nodes[1].Err == nil {
		t.Errorf("missing reading = %+v, want NaN with error", first.Nodes[1])
	}
	if first.CheckedAt.IsZero() {
		t.Error("CheckedAt is zero")
	}
	if second.Load() == 0 {
		t.Error("callback after a panicking one was not invoked")
	}
}

func TestToEndpointStatus(t *testing.T) {
	readErr := &opcua.ReadError{NodePath: "ns=2;s=B", Err: errors.New("BadNodeIdUnknown")}
	r := poller.CycleResult{
		URL:       "opc.tcp://a",
		Connected: true,
		Nodes: []poller.NodeResult{
			{MetricName: "a", NodePath: "ns=2;s=A", Value: 1.5},
			{MetricName: "b", NodePath: "ns=2;s=B", Value: math.NaN(), Err: readErr},
		},
		Duration:  1500 * time.Millisecond,
		CheckedAt: time.Unix(1700000000, 0),
	}

	got := toEndpointStatus(r)

	if got.Server != "opc.tcp://a" || got.Status != "degraded" {
		t.Errorf("Server, Status = %q, %q", got.Server, got.Status)
	}
	if got.NodesOK != 1 || got.NodesFailed != 1 {
		t.Errorf("NodesOK, NodesFailed = %d, %d, want 1, 1", got.NodesOK, got.NodesFailed)
	}
	if got.DurationMs != 1500 {
		t.Errorf("DurationMs = %d, want 1500", got.DurationMs)
	}
	if got.Error != nil {
		t.Errorf("Error = %q, want nil", *got.Error)
	}
	if got.Nodes[0].Value == nil || *got.Nodes[0].Value != 1.5 {
		t.Errorf("node a value = %v, want 1.5", got.Nodes[0].Value)
	}
	if got.Nodes[1].Value != nil || got.Nodes[1].Error == nil {
		t.Errorf("node b = %+v, want nil value with error", got.Nodes[1])
	}

	// NaN never reaches the JSON encoder
	if _, err := json.Marshal(got); err != nil {
		t.Errorf("json.Marshal() error = %v", err)
	}
}

func TestToEndpointStatus_Down(t *testing.T) {
	r := poller.CycleResult{
		URL: "opc.tcp://a",
		Err: &opcua.ConnectError{URL: "opc.tcp://a", Err: errors.New("connection refused")},
	}

	got := toEndpointStatus(r)
	if got.Status != "down" {
		t.Errorf("Status = %q, want down", got.Status)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "connection refused") {
		t.Errorf("Error = %v, want connection refused", got.Error)
	}
}
