// Package poller runs the read-poll-sleep cycle for every configured OPC UA
// endpoint.
//
// The main components are:
//
//   - [EndpointPoller]: owns one endpoint's connection and its metric
//     bindings, and never exits on error
//   - [Scheduler]: runs one EndpointPoller per endpoint concurrently and
//     emits a [CycleResult] after each cycle
//   - [EndpointInfo]: connection settings for one endpoint
//
// Failures are isolated at two levels. A failed connection sets every gauge
// of that endpoint to NaN; a failed read sets only that node's gauge to NaN
// and the cycle continues with the next node. Neither affects other
// endpoints, whose series carry a different server label.
//
// Users of the opcuaexporter library should not need to interact with this
// package directly.
package poller
