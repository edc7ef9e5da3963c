package simulate

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/okian/tremor/internal/domain/model"
	"github.com/okian/tremor/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// File permission constants.
const (
	directoryPermission = 0750
	reportPermission    = 0600
)

// Run executes a complete simulation: it checks the service, uploads
// synthetic recordings, analyses each device synchronously and verifies the
// verdicts.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("simulate")

	log.Info(ctx, "starting tremor simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("devices", cfg.Devices),
		logger.Float64("tremorRatio", cfg.TremorRatio),
		logger.Duration("duration", cfg.Duration),
		logger.Float64("rateHz", cfg.RateHz),
		logger.Int("workers", cfg.Workers),
	)

	c := newClient(cfg.BaseURL, cfg.Timeout)
	if err := c.health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}
	log.Info(ctx, "service is healthy")

	devices := generateDevices(cfg.Devices, cfg.TremorRatio)
	stats.DevicesGenerated = len(devices)

	outcomes, err := runDevices(ctx, cfg, c, devices, stats)
	if err != nil {
		return stats, err
	}

	verr := verifyOutcomes(ctx, outcomes, stats)

	if cfg.OutputFile != "" {
		if err := saveReport(cfg.OutputFile, outcomes); err != nil {
			log.Warn(ctx, "failed to save report", logger.Error(err))
		}
	}

	stats.Duration = time.Since(stats.StartTime)
	displayFinalStats(ctx, stats)

	if verr != nil {
		return stats, verr
	}
	log.Info(ctx, "simulation completed successfully")
	return stats, nil
}

// runDevices uploads and analyses every device with bounded concurrency.
func runDevices(ctx context.Context, cfg *Config, c *client, devices []Device, stats *Stats) ([]Outcome, error) {
	log := logger.Get().Named("simulate")
	n := int(math.Round(cfg.Duration.Seconds() * cfg.RateHz))
	end := time.Now().Add(-time.Second).UnixMilli()
	start := end - cfg.Duration.Milliseconds()

	outcomes := make([]Outcome, len(devices))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for i, d := range devices {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := Outcome{Device: d}
			records := d.records(start, n, cfg.RateHz, cfg.BatchSize)

			ack, sent, err := c.upload(gctx, records)
			mu.Lock()
			stats.RecordsPosted += len(records)
			stats.SamplesAccepted += ack.Accepted
			stats.SamplesRejected += ack.Rejected
			stats.BytesPosted += sent
			mu.Unlock()
			if err != nil {
				out.Err = err
				outcomes[i] = out
				return nil
			}

			rng := model.TimeRange{Start: start, End: end}
			sum, err := c.process(gctx, d.ID, rng)
			if err != nil {
				out.Err = err
				outcomes[i] = out
				return nil
			}
			if cfg.Verbose {
				log.Info(gctx, "device processed",
					logger.String("device_id", d.ID),
					logger.String("kind", d.Kind),
					logger.String("status", string(sum.Status)),
					logger.Int("windows", sum.WindowsEmitted),
				)
			}

			results, err := c.results(gctx, d.ID, rng)
			if err != nil {
				out.Err = err
				outcomes[i] = out
				return nil
			}
			out.Windows = len(results)
			for _, r := range results {
				if r.IsParkinsonian {
					out.Positive++
				}
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("simulation aborted: %w", err)
	}
	return outcomes, nil
}

type reportEntry struct {
	Device   Device `json:"device"`
	Windows  int    `json:"windows"`
	Positive int    `json:"positive"`
	Correct  bool   `json:"correct"`
	Error    string `json:"error,omitempty"`
}

// saveReport writes the devices and their verdicts as a JSON array.
func saveReport(filename string, outcomes []Outcome) error {
	dir := filepath.Dir(filename)
	if dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	entries := make([]reportEntry, len(outcomes))
	for i, o := range outcomes {
		entries[i] = reportEntry{Device: o.Device, Windows: o.Windows, Positive: o.Positive, Correct: o.Correct}
		if o.Err != nil {
			entries[i].Error = o.Err.Error()
		}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return os.WriteFile(filename, data, reportPermission)
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var accuracy, samplesPerSecond float64
	if judged := stats.Correct + stats.Incorrect; judged > 0 {
		accuracy = float64(stats.Correct) / float64(judged) * 100
	}
	if stats.Duration > 0 {
		samplesPerSecond = float64(stats.SamplesAccepted) / stats.Duration.Seconds()
	}
	rate, prefix := humanize.ComputeSI(samplesPerSecond)

	logger.Get().Info(ctx, "final statistics",
		logger.Int("devices", stats.DevicesGenerated),
		logger.Int("recordsPosted", stats.RecordsPosted),
		logger.String("samplesAccepted", humanize.Comma(int64(stats.SamplesAccepted))),
		logger.Int("samplesRejected", stats.SamplesRejected),
		logger.String("bytesPosted", humanize.Bytes(uint64(stats.BytesPosted))),
		logger.Int("windowsAnalysed", stats.WindowsAnalysed),
		logger.Int("correct", stats.Correct),
		logger.Int("incorrect", stats.Incorrect),
		logger.Int("failed", stats.Failed),
		logger.String("duration", stats.Duration.String()),
		logger.String("accuracy", humanize.FtoaWithDigits(accuracy, 1)+"%"),
		logger.String("samplesPerSecond", humanize.FtoaWithDigits(rate, 1)+prefix),
	)
}
