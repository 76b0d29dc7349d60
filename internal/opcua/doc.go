// Package opcua is the node-protocol collaborator used by the exporter's pollers.
//
// It hides the OPC UA client behind two small interfaces so the polling state
// machine can be tested without a live server:
//
//   - [Dialer]: establishes a session with one endpoint URL
//   - [Connection]: reads the current value of a node path on that session
//
// Failures are reported through two typed errors. A [ConnectError] affects
// every node of an endpoint; a [ReadError] affects exactly one node. [Float64]
// converts decoded values into the numeric form exported as gauge samples.
package opcua
