package opcuaexporter

import (
	"errors"
	"time"
)

// endpointConfig holds mutable state during endpoint construction.
type endpointConfig struct {
	username        string
	password        string
	refreshInterval time.Duration
	timeout         time.Duration
	nodes           []Node
}

// EndpointOption is a function that configures an [Endpoint] during construction.
//
// Options return an error if validation fails.
type EndpointOption func(*endpointConfig) error

// WithCredentials selects username/password authentication. Without it the
// session is anonymous.
//
// Returns an error if either value is empty.
func WithCredentials(username, password string) EndpointOption {
	return func(cfg *endpointConfig) error {
		if username == "" || password == "" {
			return errors.New("username and password must both be set")
		}
		cfg.username = username
		cfg.password = password
		return nil
	}
}

// WithRefreshInterval sets the wait between the end of one poll cycle and
// the start of the next. Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithRefreshInterval(d time.Duration) EndpointOption {
	return func(cfg *endpointConfig) error {
		if d <= 0 {
			return errors.New("refresh interval must be positive")
		}
		cfg.refreshInterval = d
		return nil
	}
}

// WithReadTimeout bounds the connection attempt and each node read. When
// not set, the protocol client's default request timeout applies.
//
// Returns an error if the duration is zero or negative.
func WithReadTimeout(d time.Duration) EndpointOption {
	return func(cfg *endpointConfig) error {
		if d <= 0 {
			return errors.New("read timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithNodes appends nodes to read on every cycle. Nodes are read in the
// order they are added.
func WithNodes(nodes ...Node) EndpointOption {
	return func(cfg *endpointConfig) error {
		cfg.nodes = append(cfg.nodes, nodes...)
		return nil
	}
}
