// Command example runs the exporter from code instead of a config file and
// logs a line for every poll cycle.
//
// Point OPCUA_URL at a reachable server, e.g. a local simulator:
//
//	OPCUA_URL=opc.tcp://localhost:4840 go run ./example
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/opcuaexporter"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	url := os.Getenv("OPCUA_URL")
	if url == "" {
		url = "opc.tcp://localhost:4840"
	}

	temp, err := opcuaexporter.NewNode("line1_temperature", "ns=2;s=Line1.Temperature", "Line 1 temperature in Celsius")
	if err != nil {
		logger.Error("invalid node", "error", err)
		os.Exit(1)
	}
	speed, err := opcuaexporter.NewNode("line1_speed", "ns=2;s=Line1.Speed", "Line 1 conveyor speed")
	if err != nil {
		logger.Error("invalid node", "error", err)
		os.Exit(1)
	}

	ep, err := opcuaexporter.NewEndpoint(url,
		opcuaexporter.WithRefreshInterval(5*time.Second),
		opcuaexporter.WithReadTimeout(2*time.Second),
		opcuaexporter.WithNodes(temp, speed),
	)
	if err != nil {
		logger.Error("invalid endpoint", "error", err)
		os.Exit(1)
	}

	exp, err := opcuaexporter.New(
		opcuaexporter.WithEndpoint(ep),
		opcuaexporter.WithPort(9840),
		opcuaexporter.WithLogger(logger),
		opcuaexporter.WithPollCallback(func(r opcuaexporter.PollResult) {
			for _, n := range r.Nodes {
				logger.Info("reading",
					"server", r.URL,
					"status", r.Status,
					"metric", n.MetricName,
					"value", n.Value,
				)
			}
		}),
	)
	if err != nil {
		logger.Error("failed to create exporter", "error", err)
		os.Exit(1)
	}

	logger.Info("metrics at http://localhost:9840/metrics")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := exp.Start(ctx); err != nil {
		logger.Error("exporter stopped", "error", err)
		os.Exit(1)
	}
}
