package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/tremor/internal/simulate"
)

// Default configuration constants.
const (
	defaultDevices     = 12
	defaultTremorRatio = 0.5
	defaultDuration    = 30 * time.Second
	defaultRateHz      = 50
	defaultBatchSize   = 25
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultRunTimeout  = 10 * time.Minute
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:9080", "Base URL of the service")
		devices     = flag.Int("devices", defaultDevices, "Number of simulated devices")
		tremorRatio = flag.Float64("tremor", defaultTremorRatio, "Share of devices with a tremor")
		duration    = flag.Duration("duration", defaultDuration, "Recording length per device")
		rateHz      = flag.Float64("rate", defaultRateHz, "Sampling rate in Hz")
		batchSize   = flag.Int("batch", defaultBatchSize, "Samples per batch record")
		workers     = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout     = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		outputFile  = flag.String("output", "", "Optional JSON report of devices and verdicts")
		logFormat   = flag.String("log-format", "text", "Log format: text or json")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		help        = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	if err := simulate.SetupLogging(*logFormat, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL:     *baseURL,
		Devices:     *devices,
		TremorRatio: *tremorRatio,
		Duration:    *duration,
		RateHz:      *rateHz,
		BatchSize:   *batchSize,
		Workers:     *workers,
		Timeout:     *timeout,
		OutputFile:  *outputFile,
		Verbose:     *verbose,
	}

	if _, err := simulate.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
