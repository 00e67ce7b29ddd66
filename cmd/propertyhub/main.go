// PropertyHub Core - property IoT ingestion and alerting service.
//
// The binary ingests device telemetry from an MQTT broker, records it in
// SQLite, fans it out to realtime WebSocket clients, and escalates urgent
// alerts into SLA-tracked incidents.
//
// Usage:
//
//	propertyhub serve --config configs/config.yaml
//	propertyhub migrate status
//	propertyhub version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is used when neither --config nor PROPERTYHUB_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "propertyhub",
		Short: "Property IoT ingestion and alerting service",
		Long: `PropertyHub Core subscribes to device telemetry on an MQTT broker and:
- records readings, access events and device state in SQLite
- routes events to realtime WebSocket rooms
- escalates urgent alerts into incidents with SLA tracking
- supervises the broker connection and alerts on outages`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $PROPERTYHUB_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newVersionCmd())
	return root
}

func main() {
	// Cancel on Ctrl+C or SIGTERM so every loop shuts down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel called explicitly above
	}
}
