package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	service "github.com/okian/tremor/internal/app"
	"github.com/okian/tremor/internal/config"
	"github.com/okian/tremor/internal/domain/model"
	"github.com/okian/tremor/pkg/logger"
)

var errUsage = errors.New("usage error")

type options struct {
	devices []string
	rng     model.TimeRange
	hintHz  float64
}

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := parseFlags(os.Args[1:], time.Now())
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	cfg.ScheduleEnabled = false
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, opts, os.Stdout); err != nil {
		logger.Get().Error(ctx, "backfill failed", logger.Error(err))
		os.Exit(1)
	}
}

// parseFlags reads -devices, -from, -to and -hint. Without -from the range
// starts one day before now; without -to it ends at now.
func parseFlags(args []string, now time.Time) (options, error) {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		devices = fs.String("devices", "", "Comma-separated device ids (default: every device with data)")
		from    = fs.String("from", "", "Range start, RFC3339 (default: 24h ago)")
		to      = fs.String("to", "", "Range end, RFC3339 (default: now)")
		hint    = fs.Float64("hint", 0, "Sampling rate hint in Hz")
	)
	if err := fs.Parse(args); err != nil {
		return options{}, fmt.Errorf("%w: %v", errUsage, err)
	}

	opts := options{hintHz: *hint}
	for _, id := range strings.Split(*devices, ",") {
		if id = strings.TrimSpace(id); id != "" {
			opts.devices = append(opts.devices, id)
		}
	}

	start, end := now.Add(-24*time.Hour), now
	var err error
	if *from != "" {
		if start, err = time.Parse(time.RFC3339, *from); err != nil {
			return options{}, fmt.Errorf("%w: -from: %v", errUsage, err)
		}
	}
	if *to != "" {
		if end, err = time.Parse(time.RFC3339, *to); err != nil {
			return options{}, fmt.Errorf("%w: -to: %v", errUsage, err)
		}
	}
	opts.rng = model.TimeRange{Start: start.UnixMilli(), End: end.UnixMilli()}
	if !opts.rng.Valid() {
		return options{}, fmt.Errorf("%w: -from must not be after -to", errUsage)
	}
	if opts.hintHz < 0 {
		return options{}, fmt.Errorf("%w: -hint must not be negative", errUsage)
	}
	return opts, nil
}

// run starts the service without its scheduler, backfills the range and
// prints one line per device.
func run(ctx context.Context, cfg *config.Config, opts options, out io.Writer, svcOpts ...service.Option) error {
	svc := service.New(cfg, svcOpts...)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	started := time.Now()
	report, err := svc.Backfill(ctx, opts.devices, opts.rng, opts.hintHz)
	if err != nil {
		return err
	}

	var windows, samples int
	for _, s := range report.Summaries {
		windows += s.WindowsEmitted
		samples += s.SamplesConsumed
		line := fmt.Sprintf("%-36s %-10s windows=%d samples=%s", s.DeviceID, s.Status, s.WindowsEmitted, humanize.Comma(int64(s.SamplesConsumed)))
		if s.Error != "" {
			line += " error=" + s.Error
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "%s devices, %s windows, %s samples in %s (%d failed)\n",
		humanize.Comma(int64(len(report.Summaries))),
		humanize.Comma(int64(windows)),
		humanize.Comma(int64(samples)),
		time.Since(started).Round(time.Millisecond),
		report.Failed,
	)
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d devices failed", report.Failed, len(report.Summaries))
	}
	return nil
}
