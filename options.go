package opcuaexporter

import (
	"errors"
	"log/slog"

	"github.com/jpalmerr/opcuaexporter/internal/opcua"
)

// exporterConfig holds mutable state during Exporter construction.
type exporterConfig struct {
	endpoints     []Endpoint
	port          int
	certFile      string
	keyFile       string
	logger        *slog.Logger
	pollCallbacks []func(PollResult)

	// dialer replaces the OPC UA client in tests.
	dialer opcua.Dialer
}

// Option is a function that configures an [Exporter] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Built-in options: [WithEndpoint], [WithEndpoints], [WithPort], [WithTLS],
// [WithLogger], [WithPollCallback].
type Option func(*exporterConfig) error

// WithEndpoint adds a single [Endpoint] to the polling list.
//
// Can be called multiple times to add multiple endpoints. At least one
// endpoint must be configured for [New] to succeed.
func WithEndpoint(e Endpoint) Option {
	return func(cfg *exporterConfig) error {
		cfg.endpoints = append(cfg.endpoints, e)
		return nil
	}
}

// WithEndpoints adds multiple [Endpoint] values to the polling list.
//
// Equivalent to calling [WithEndpoint] multiple times.
func WithEndpoints(endpoints ...Endpoint) Option {
	return func(cfg *exporterConfig) error {
		cfg.endpoints = append(cfg.endpoints, endpoints...)
		return nil
	}
}

// WithPort sets the port the metrics server listens on.
// Defaults to 9840 if not specified.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *exporterConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithTLS serves metrics over HTTPS using the given PEM certificate and
// key files. The pair is loaded when [Exporter.Start] runs.
//
// Returns an error if only one of the two paths is given.
func WithTLS(certFile, keyFile string) Option {
	return func(cfg *exporterConfig) error {
		if (certFile == "") != (keyFile == "") {
			return errors.New("TLS requires both a certificate and a key file")
		}
		cfg.certFile = certFile
		cfg.keyFile = keyFile
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Exporter instance.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *exporterConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithPollCallback registers a function to be called after every poll
// cycle of every endpoint.
//
// Multiple callbacks may be registered; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. Callbacks are invoked
// synchronously from a single goroutine, so a slow callback delays status
// updates for every endpoint (gauges are unaffected). Panics within
// callbacks are recovered and logged.
//
// Example:
//
//	exp, err := opcuaexporter.New(
//	    opcuaexporter.WithEndpoint(ep),
//	    opcuaexporter.WithPollCallback(func(r opcuaexporter.PollResult) {
//	        if r.Status == opcuaexporter.StatusDown {
//	            log.Printf("ALERT: %s unreachable: %v", r.URL, r.Error)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithPollCallback(cb func(PollResult)) Option {
	return func(cfg *exporterConfig) error {
		if cb == nil {
			return nil
		}
		cfg.pollCallbacks = append(cfg.pollCallbacks, cb)
		return nil
	}
}

// withDialer replaces the OPC UA client for every endpoint.
func withDialer(d opcua.Dialer) Option {
	return func(cfg *exporterConfig) error {
		if d == nil {
			return errors.New("dialer cannot be nil")
		}
		cfg.dialer = d
		return nil
	}
}
