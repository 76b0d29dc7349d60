package store

import "time"

// EndpointStatus represents the outcome of an endpoint's latest poll cycle.
//
// EndpointStatus is optimized for JSON serialization by the status API. It
// is decoupled from the poller's internal types.
type EndpointStatus struct {
	// Server is the endpoint URL, the same value as the metrics server label.
	Server string `json:"server"`

	// Status is "up", "degraded" (connected, some reads failed) or "down".
	Status string `json:"status"`

	// NodesOK and NodesFailed count node reads in the cycle.
	NodesOK     int `json:"nodes_ok"`
	NodesFailed int `json:"nodes_failed"`

	// DurationMs is the time spent connecting and reading.
	DurationMs int64 `json:"duration_ms"`

	// CheckedAt is when the cycle finished.
	CheckedAt time.Time `json:"checked_at"`

	// Error is the endpoint-level error, nil when connected.
	Error *string `json:"error"`

	// Nodes lists per-node outcomes in configured order.
	Nodes []NodeStatus `json:"nodes"`
}

// NodeStatus is the outcome of one node read.
type NodeStatus struct {
	Metric   string `json:"metric"`
	NodePath string `json:"node_path"`

	// Value is nil when the read failed; JSON has no NaN.
	Value *float64 `json:"value"`
	Error *string  `json:"error,omitempty"`
}

// Store defines the interface for storing endpoint status.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Update stores a new status, replacing any previous one for the
	// same Server.
	Update(status EndpointStatus)

	// Get returns the status for server, if any cycle has completed.
	Get(server string) (EndpointStatus, bool)

	// GetAll returns all stored statuses sorted by Server.
	// The returned slice is a snapshot; modifications do not affect the store.
	GetAll() []EndpointStatus
}
