package config

import (
	"fmt"

	"github.com/jpalmerr/opcuaexporter"
)

// BuildEndpoints converts parsed configuration into SDK Endpoint objects,
// one per server, in file order.
func BuildEndpoints(cfg *Config) ([]opcuaexporter.Endpoint, error) {
	endpoints := make([]opcuaexporter.Endpoint, 0, len(cfg.Servers))

	for i, sc := range cfg.Servers {
		ep, err := buildEndpoint(sc)
		if err != nil {
			return nil, fmt.Errorf("servers[%d] (%s): %w", i, sc.URL, err)
		}
		endpoints = append(endpoints, ep)
	}

	return endpoints, nil
}

// buildEndpoint converts a single ServerConfig to an SDK Endpoint.
func buildEndpoint(sc ServerConfig) (opcuaexporter.Endpoint, error) {
	nodes := make([]opcuaexporter.Node, 0, len(sc.Nodes))
	for _, nc := range sc.Nodes {
		n, err := opcuaexporter.NewNode(nc.MetricName, nc.NodePath, nc.Description)
		if err != nil {
			return opcuaexporter.Endpoint{}, err
		}
		nodes = append(nodes, n)
	}

	opts := []opcuaexporter.EndpointOption{
		opcuaexporter.WithNodes(nodes...),
	}

	if sc.Username != "" || sc.Password != "" {
		opts = append(opts, opcuaexporter.WithCredentials(sc.Username, sc.Password))
	}

	if sc.RefreshTime != 0 {
		opts = append(opts, opcuaexporter.WithRefreshInterval(sc.RefreshTime.Duration()))
	}

	if sc.Timeout != 0 {
		opts = append(opts, opcuaexporter.WithReadTimeout(sc.Timeout.Duration()))
	}

	return opcuaexporter.NewEndpoint(sc.URL, opts...)
}

// Options returns the exporter options carried by the exporter section:
// the listening port and, when configured, the TLS certificate pair.
func Options(cfg *Config) []opcuaexporter.Option {
	opts := []opcuaexporter.Option{
		opcuaexporter.WithPort(cfg.Exporter.Port),
	}
	if cfg.Exporter.TLSCertFile != "" || cfg.Exporter.TLSKeyFile != "" {
		opts = append(opts, opcuaexporter.WithTLS(cfg.Exporter.TLSCertFile, cfg.Exporter.TLSKeyFile))
	}
	return opts
}
