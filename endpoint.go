package opcuaexporter

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const defaultRefreshInterval = 10 * time.Second

// Node is one data point of an endpoint, exported as a gauge.
//
// Node is immutable after creation via [NewNode].
type Node struct {
	metricName  string
	nodePath    string
	description string
}

// MetricName returns the exported metric name.
func (n Node) MetricName() string {
	return n.metricName
}

// NodePath returns the node identifier in the server's address space,
// e.g. "ns=2;s=Temperature".
func (n Node) NodePath() string {
	return n.nodePath
}

// Description returns the metric help text.
func (n Node) Description() string {
	return n.description
}

// NewNode creates a [Node]. metricName and nodePath are required.
//
// Whether metricName is a valid Prometheus name is checked when the
// exporter registers it in [New].
func NewNode(metricName, nodePath, description string) (Node, error) {
	if metricName == "" {
		return Node{}, errors.New("node metric name cannot be empty")
	}
	if nodePath == "" {
		return Node{}, fmt.Errorf("node %q: node path cannot be empty", metricName)
	}
	return Node{
		metricName:  metricName,
		nodePath:    nodePath,
		description: description,
	}, nil
}

// Endpoint is an OPC UA server to poll, together with the nodes to read
// from it.
//
// Endpoint is immutable after creation via [NewEndpoint]. All fields are
// private with getter methods; slices are returned as copies.
//
// Endpoints are configured using the functional options pattern with
// [EndpointOption] functions such as [WithCredentials],
// [WithRefreshInterval], [WithReadTimeout] and [WithNodes].
type Endpoint struct {
	url             string
	username        string
	password        string
	refreshInterval time.Duration
	timeout         time.Duration
	nodes           []Node
}

// URL returns the endpoint address. It doubles as the server label value
// on every gauge the endpoint writes.
func (e Endpoint) URL() string {
	return e.url
}

// Username returns the configured username, or "" for anonymous sessions.
func (e Endpoint) Username() string {
	return e.username
}

// HasCredentials reports whether username authentication is configured.
func (e Endpoint) HasCredentials() bool {
	return e.username != ""
}

// RefreshInterval returns the wait between poll cycles.
// Defaults to 10 seconds if not explicitly set via [WithRefreshInterval].
func (e Endpoint) RefreshInterval() time.Duration {
	return e.refreshInterval
}

// ReadTimeout returns the per-operation timeout, or 0 when the protocol
// client's own default applies.
func (e Endpoint) ReadTimeout() time.Duration {
	return e.timeout
}

// Nodes returns a copy of the endpoint's nodes in configured order.
func (e Endpoint) Nodes() []Node {
	cp := make([]Node, len(e.nodes))
	copy(cp, e.nodes)
	return cp
}

// NewEndpoint creates an [Endpoint] for the given opc.tcp URL.
//
// Options are applied in order using the functional options pattern.
//
// Returns an error if the URL is invalid, uses another scheme, or if two
// nodes share a metric name.
//
// Example:
//
//	temp, _ := opcuaexporter.NewNode("line1_temp", "ns=2;s=Temp", "Line 1 temperature")
//	ep, err := opcuaexporter.NewEndpoint("opc.tcp://plc-1:4840",
//	    opcuaexporter.WithCredentials("reader", "secret"),
//	    opcuaexporter.WithRefreshInterval(5 * time.Second),
//	    opcuaexporter.WithNodes(temp),
//	)
func NewEndpoint(rawURL string, opts ...EndpointOption) (Endpoint, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return Endpoint{}, errors.New("invalid URL: " + err.Error())
	}
	if parsedURL.Scheme != "opc.tcp" {
		return Endpoint{}, fmt.Errorf("URL %q must use the opc.tcp scheme", rawURL)
	}
	if parsedURL.Host == "" {
		return Endpoint{}, fmt.Errorf("URL %q has no host", rawURL)
	}

	cfg := &endpointConfig{
		refreshInterval: defaultRefreshInterval,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Endpoint{}, err
		}
	}

	seen := make(map[string]struct{}, len(cfg.nodes))
	for _, n := range cfg.nodes {
		if _, dup := seen[n.metricName]; dup {
			return Endpoint{}, fmt.Errorf("duplicate metric name %q on %s", n.metricName, rawURL)
		}
		seen[n.metricName] = struct{}{}
	}

	return Endpoint{
		url:             rawURL,
		username:        cfg.username,
		password:        cfg.password,
		refreshInterval: cfg.refreshInterval,
		timeout:         cfg.timeout,
		nodes:           cfg.nodes,
	}, nil
}
