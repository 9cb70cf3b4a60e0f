package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cuemby/hutch/pkg/config"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hutch",
	Short: "Hutch - lightweight RPC over message-queue sockets",
	Long: `Hutch is a lightweight RPC framework layered on ZeroMQ-style sockets,
with streaming replies, heartbeats and credit-based flow control.

The CLI talks to any hutch (or zerorpc) server: call methods, inspect the
exposed interface, or run a loopback demo server for smoke testing.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hutch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("endpoint", "", "Endpoint to connect or bind (e.g. tcp://127.0.0.1:4242)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Call timeout")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveDemoCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// loadConfig merges the config file (when given) with command-line flags;
// flags win.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if endpoint, _ := cmd.Flags().GetString("endpoint"); endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		cfg.Timeout = config.Duration(timeout)
	}
	return cfg, nil
}

// parseArg turns a command-line argument into a call argument: valid JSON is
// decoded, anything else is passed through as a string.
func parseArg(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return value
}

func printResult(value any) error {
	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("render result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
