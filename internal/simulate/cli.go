package simulate

import (
	"fmt"
	"os"
	"strings"

	"github.com/okian/tremor/pkg/logger"
)

// SetupLogging initialises the logger in the requested format and level.
func SetupLogging(format string, verbose bool) error {
	if err := logger.InitWithFormat(format); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	level := "info"
	if verbose {
		level = "debug"
	}
	return logger.SetLevelString(level)
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(strings.TrimLeft(`
Tremor Simulator
================

Uploads synthetic wearable recordings to a running tremord, analyses each
device and checks that tremor devices are flagged and normal ones are not.

Usage:
  go run ./cmd/simulate [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -devices int
        Number of simulated devices (default 12)
  -tremor float
        Share of devices with a tremor (default 0.5)
  -duration duration
        Recording length per device (default 30s)
  -rate float
        Sampling rate in Hz (default 50)
  -batch int
        Samples per batch record (default 25)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -output string
        Optional JSON report of devices and verdicts
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  go run ./cmd/simulate -devices 50 -workers 16
  go run ./cmd/simulate -rate 100 -duration 1m -output report.json
`, "\n"))
}
