// Package main is the entry point for the opcua-exporter binary.
//
// The exporter reads a YAML configuration file, polls every configured
// OPC UA server and serves the node values as Prometheus gauges.
//
// Usage:
//
//	opcua-exporter               # reads ./config.yaml
//	opcua-exporter /etc/opcua-exporter/config.yaml
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var version = "dev"

const defaultConfigPath = "config.yaml"

// rootCmd runs the exporter. It takes no flags and no subcommands.
var rootCmd = &cobra.Command{
	Use:   "opcua-exporter [config.yaml]",
	Short: "Export OPC UA node values as Prometheus metrics",
	Long: `opcua-exporter polls OPC UA servers and exposes the configured node
values as Prometheus gauges, labelled by server URL.

The only argument is the path to the configuration file, which defaults
to config.yaml in the working directory.

Example config:
  exporter:
    port: 9840
  servers:
    - url: opc.tcp://plc-1:4840
      refresh_time: 10
      nodes:
        - metric_name: temp
          node_path: ns=2;s=Temp`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         runExporter,
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}
