package opcuaexporter

import "time"

// Status summarises one poll cycle of an endpoint.
type Status string

const (
	// StatusUp means the endpoint was reachable and every node was read.
	StatusUp Status = "up"

	// StatusDegraded means the endpoint was reachable but at least one node
	// read failed.
	StatusDegraded Status = "degraded"

	// StatusDown means no session could be established.
	StatusDown Status = "down"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// NodeReading is the outcome of reading one node.
type NodeReading struct {
	MetricName string
	NodePath   string

	// Value is the exported value; NaN when Err is set.
	Value float64

	// Err is a node-level error, such as an unknown node or a value with
	// no numeric form.
	Err error
}

// PollResult holds the outcome of one poll cycle of one endpoint.
//
// PollResult is passed by value to poll callbacks; its Nodes slice is a
// copy owned by the callback.
type PollResult struct {
	// URL identifies the endpoint.
	URL string

	// Status is the cycle summary.
	Status Status

	// Nodes lists node outcomes in configured order. Empty when the
	// connection failed.
	Nodes []NodeReading

	// Duration is the time spent connecting and reading.
	Duration time.Duration

	// CheckedAt is when the cycle finished.
	CheckedAt time.Time

	// Error is the endpoint-level error when Status is [StatusDown].
	Error error
}
