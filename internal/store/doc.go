// Package store keeps the latest poll outcome of every endpoint for the
// status API.
//
// The main components are:
//
//   - [Store]: Interface defining storage operations
//   - [MemoryStore]: In-memory implementation of Store
//   - [EndpointStatus]: Storage representation of one endpoint's last cycle
//
// Only the latest cycle per endpoint is kept; there is no history. Gauge
// values themselves live in the metrics registry, not here.
package store
