// Package opcuaexporter polls OPC UA servers and exposes their node values
// as Prometheus gauges.
//
// Every configured node becomes a gauge named after its metric name and
// labelled with server=<endpoint URL>. Each endpoint runs its own
// read-poll-sleep loop; a node that cannot be read reports NaN while its
// siblings keep updating, and an endpoint that cannot be reached reports
// NaN for all of its nodes without affecting other endpoints.
//
// # Quick Start
//
//	temp, _ := opcuaexporter.NewNode("temp", "ns=2;s=Temp", "Temperature")
//	ep, _ := opcuaexporter.NewEndpoint("opc.tcp://plc-1:4840",
//	    opcuaexporter.WithRefreshInterval(5*time.Second),
//	    opcuaexporter.WithNodes(temp),
//	)
//	exp, _ := opcuaexporter.New(opcuaexporter.WithEndpoint(ep))
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	exp.Start(ctx) // blocks until context is cancelled
//
// # Served endpoints
//
//   - /metrics: Prometheus text exposition, including opcua_exporter_*
//     self-metrics and the Go and process collectors
//   - /api/status: JSON summary of the latest cycle per endpoint
//   - /: landing page
//
// # Architecture
//
// The internal packages are:
//
//   - internal/opcua: OPC UA session and read client, value conversion
//   - internal/metrics: gauge registry and self-instrumentation
//   - internal/poller: per-endpoint poll loop and scheduler
//   - internal/store: latest poll status per endpoint
//   - internal/server: HTTP server
//
// The YAML configuration file format is implemented by the config package
// and used by cmd/opcua-exporter.
package opcuaexporter
