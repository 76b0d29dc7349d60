// Package config provides YAML configuration parsing for the OPC UA exporter.
//
// This package enables running the exporter as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	exporter:
//	  port: 9840
//	  log_level: INFO
//
//	servers:
//	  - url: opc.tcp://plc-1:4840
//	    username: ${OPCUA_USER}
//	    password: ${OPCUA_PASSWORD}
//	    refresh_time: 10
//	    nodes:
//	      - metric_name: temp
//	        node_path: ns=2;s=Temp
//	        description: Line 1 temperature
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort        = 9840
	defaultRefreshTime = Seconds(10 * time.Second)
	defaultLogLevel    = "INFO"
)

// Config is the root configuration structure.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	Exporter ExporterConfig `yaml:"exporter"`
	Servers  []ServerConfig `yaml:"servers"`
}

// ExporterConfig holds process-wide settings.
type ExporterConfig struct {
	// Port is the metrics server port. Defaults to 9840.
	Port int `yaml:"port"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	// Both support environment variable substitution.
	TLSCertFile string `yaml:"tls_certfile"`
	TLSKeyFile  string `yaml:"tls_keyfile"`

	// LogLevel is one of DEBUG, INFO, WARN, WARNING, ERROR, CRITICAL or
	// FATAL, case-insensitive. Defaults to INFO.
	LogLevel string `yaml:"log_level"`
}

// ServerConfig defines one OPC UA endpoint and the nodes read from it.
type ServerConfig struct {
	// URL is the endpoint address, e.g. opc.tcp://host:4840.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Username and Password select user authentication. Both or neither.
	// Values support environment variable substitution.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// RefreshTime is the wait between poll cycles. Accepts integer seconds
	// or a duration string. Defaults to 10s.
	RefreshTime Seconds `yaml:"refresh_time"`

	// Timeout bounds the connection attempt and each read. Zero leaves the
	// client default in place.
	Timeout Seconds `yaml:"timeout"`

	// Nodes are read in order on every cycle.
	Nodes []NodeConfig `yaml:"nodes"`
}

// NodeConfig maps one OPC UA node to one Prometheus metric.
type NodeConfig struct {
	MetricName  string `yaml:"metric_name"`
	NodePath    string `yaml:"node_path"`
	Description string `yaml:"description"`
}

// Seconds is a duration decoded from YAML.
//
// It accepts plain integers as whole seconds and Go duration strings:
//
//	refresh_time: 10
//	refresh_time: 1m30s
type Seconds time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Seconds.
func (s *Seconds) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a number of seconds or a duration string, got %v", node.Kind)
	}

	var n int64
	if err := node.Decode(&n); err == nil {
		*s = Seconds(time.Duration(n) * time.Second)
		return nil
	}

	var str string
	if err := node.Decode(&str); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(str)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", str, err)
	}
	*s = Seconds(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		varName := submatches[1]
		hasDefault := submatches[2] != ""

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return submatches[3]
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in server URL, username and password
// and in the TLS paths. Defaults are applied for the port (9840), log level
// (INFO) and each server's refresh time (10s).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Exporter.Port == 0 {
		cfg.Exporter.Port = defaultPort
	}
	if cfg.Exporter.LogLevel == "" {
		cfg.Exporter.LogLevel = defaultLogLevel
	}
	for i := range cfg.Servers {
		if cfg.Servers[i].RefreshTime == 0 {
			cfg.Servers[i].RefreshTime = defaultRefreshTime
		}
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if err := c.Exporter.expandAndValidate(); err != nil {
		return err
	}

	if len(c.Servers) == 0 {
		return errors.New("at least one server must be defined")
	}

	seenURL := make(map[string]int, len(c.Servers))
	for i := range c.Servers {
		srv := &c.Servers[i]
		if err := srv.expandAndValidate(i); err != nil {
			return err
		}
		if prev, exists := seenURL[srv.URL]; exists {
			return fmt.Errorf("servers[%d] (%s): duplicate url, already defined by servers[%d]", i, srv.URL, prev)
		}
		seenURL[srv.URL] = i
	}

	return nil
}

func (e *ExporterConfig) expandAndValidate() error {
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("exporter: port must be between 1 and 65535, got %d", e.Port)
	}

	var err error
	if e.TLSCertFile, err = expandEnvVars(e.TLSCertFile); err != nil {
		return fmt.Errorf("exporter: tls_certfile: %w", err)
	}
	if e.TLSKeyFile, err = expandEnvVars(e.TLSKeyFile); err != nil {
		return fmt.Errorf("exporter: tls_keyfile: %w", err)
	}
	if (e.TLSCertFile == "") != (e.TLSKeyFile == "") {
		return errors.New("exporter: tls_certfile and tls_keyfile must be set together")
	}
	return nil
}

func (s *ServerConfig) expandAndValidate(i int) error {
	if s.URL == "" {
		return fmt.Errorf("servers[%d]: url is required", i)
	}
	expanded, err := expandEnvVars(s.URL)
	if err != nil {
		return fmt.Errorf("servers[%d]: url: %w", i, err)
	}
	s.URL = expanded

	parsedURL, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("servers[%d] (%s): invalid url: %w", i, s.URL, err)
	}
	if parsedURL.Scheme != "opc.tcp" {
		return fmt.Errorf("servers[%d] (%s): url scheme must be opc.tcp, got %q", i, s.URL, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("servers[%d] (%s): url must include a host", i, s.URL)
	}

	if s.Username, err = expandEnvVars(s.Username); err != nil {
		return fmt.Errorf("servers[%d] (%s): username: %w", i, s.URL, err)
	}
	if s.Password, err = expandEnvVars(s.Password); err != nil {
		return fmt.Errorf("servers[%d] (%s): password: %w", i, s.URL, err)
	}
	if (s.Username == "") != (s.Password == "") {
		return fmt.Errorf("servers[%d] (%s): username and password must be set together", i, s.URL)
	}

	if s.RefreshTime.Duration() <= 0 {
		return fmt.Errorf("servers[%d] (%s): refresh_time must be positive, got %s", i, s.URL, s.RefreshTime.Duration())
	}
	if s.Timeout.Duration() < 0 {
		return fmt.Errorf("servers[%d] (%s): timeout cannot be negative, got %s", i, s.URL, s.Timeout.Duration())
	}

	seenMetric := make(map[string]struct{}, len(s.Nodes))
	for j, n := range s.Nodes {
		if n.MetricName == "" {
			return fmt.Errorf("servers[%d] (%s): nodes[%d]: metric_name is required", i, s.URL, j)
		}
		if n.NodePath == "" {
			return fmt.Errorf("servers[%d] (%s): nodes[%d] (%s): node_path is required", i, s.URL, j, n.MetricName)
		}
		if _, exists := seenMetric[n.MetricName]; exists {
			return fmt.Errorf("servers[%d] (%s): nodes[%d]: duplicate metric_name %q", i, s.URL, j, n.MetricName)
		}
		seenMetric[n.MetricName] = struct{}{}
	}

	return nil
}
