package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/okian/tremor/internal/config"
	"github.com/okian/tremor/internal/domain/classify"
	"github.com/okian/tremor/internal/domain/model"
	"github.com/okian/tremor/internal/domain/normalize"
	"github.com/okian/tremor/internal/domain/ownership"
	"github.com/okian/tremor/internal/domain/scoring"
	"github.com/okian/tremor/internal/domain/spectral"
	"github.com/okian/tremor/internal/domain/window"
	"github.com/okian/tremor/pkg/logger"
	"github.com/okian/tremor/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const cancelFlushTimeout = 5 * time.Second

// SampleSource reads raw samples of one device.
type SampleSource interface {
	Samples(ctx context.Context, deviceID string, r model.TimeRange) ([]model.RawSample, error)
}

// ResultSink persists a batch of results atomically.
type ResultSink interface {
	Upsert(ctx context.Context, results []model.AnalysisResult) error
}

// OwnerTimeline loads ownership for an invocation.
type OwnerTimeline interface {
	Timeline(ctx context.Context, deviceID string, r model.TimeRange) *ownership.Timeline
}

// Pipeline runs one invocation end to end: fetch, normalize, window,
// analyse, persist.
type Pipeline struct {
	samples SampleSource
	results ResultSink
	owners  OwnerTimeline

	normalizer *normalize.Normalizer
	scheduler  *window.Scheduler
	scorer     *scoring.Scorer

	budget          time.Duration
	retention       time.Duration
	flushBatch      int
	retryInitial    time.Duration
	retryMaxElapsed time.Duration
	backfillLimit   int

	now    func() time.Time
	logger logger.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithScheduler replaces the window scheduler.
func WithScheduler(s *window.Scheduler) PipelineOption {
	return func(p *Pipeline) {
		if s != nil {
			p.scheduler = s
		}
	}
}

// WithNormalizer replaces the normalizer.
func WithNormalizer(n *normalize.Normalizer) PipelineOption {
	return func(p *Pipeline) {
		if n != nil {
			p.normalizer = n
		}
	}
}

// WithScorer replaces the severity scorer.
func WithScorer(s *scoring.Scorer) PipelineOption {
	return func(p *Pipeline) {
		if s != nil {
			p.scorer = s
		}
	}
}

// WithBudget bounds the wall time of one invocation. Zero disables it.
func WithBudget(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.budget = d
	}
}

// WithRetention sets the result TTL measured from the time it is written.
func WithRetention(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.retention = d
		}
	}
}

// WithFlushBatch sets how many results are written per transaction.
func WithFlushBatch(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.flushBatch = n
		}
	}
}

// WithRetry sets the store retry backoff.
func WithRetry(initial, maxElapsed time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if initial > 0 {
			p.retryInitial = initial
		}
		if maxElapsed > 0 {
			p.retryMaxElapsed = maxElapsed
		}
	}
}

// WithBackfillConcurrency bounds the number of devices Backfill runs at once.
func WithBackfillConcurrency(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.backfillLimit = n
		}
	}
}

// WithClock overrides the clock used for budgets and durations.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l logger.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline wires a Pipeline with default analysis settings.
func NewPipeline(samples SampleSource, results ResultSink, owners OwnerTimeline, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		samples:         samples,
		results:         results,
		owners:          owners,
		scorer:          scoring.New(),
		budget:          30 * time.Second,
		retention:       90 * 24 * time.Hour,
		flushBatch:      64,
		retryInitial:    100 * time.Millisecond,
		retryMaxElapsed: 5 * time.Second,
		backfillLimit:   4,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("pipeline")
	}
	if p.normalizer == nil {
		p.normalizer = normalize.New()
	}
	if p.scheduler == nil {
		an := window.NewAnalyzer(spectral.New(spectral.DefaultBand), classify.New())
		p.scheduler = window.NewScheduler(an)
	}
	return p
}

// NewPipelineFromConfig builds the analysis chain from configuration.
func NewPipelineFromConfig(cfg *config.Config, samples SampleSource, results ResultSink, owners OwnerTimeline) *Pipeline {
	band := spectral.Band{Low: cfg.BandLowHz, High: cfg.BandHighHz}
	cl := classify.New(
		classify.WithBand(band),
		classify.WithThreshold(cfg.IndexThreshold),
		classify.WithSevereReference(cfg.SevereReferenceG),
	)
	an := window.NewAnalyzer(spectral.New(band), cl,
		window.WithCutoff(cfg.CutoffHz),
		window.WithOrder(cfg.FilterOrder),
		window.WithMinSpectralRate(cfg.MinSpectralRateHz),
	)
	return NewPipeline(samples, results, owners,
		WithNormalizer(normalize.New(normalize.WithNominalRate(cfg.NominalRateHz))),
		WithScheduler(window.NewScheduler(an, window.WithGeometry(cfg.Window, cfg.Step))),
		WithBudget(cfg.Budget),
		WithRetention(cfg.Retention),
		WithFlushBatch(cfg.FlushBatch),
		WithRetry(cfg.RetryInitialInterval, cfg.RetryMaxElapsed),
		WithBackfillConcurrency(cfg.WorkerCount),
	)
}

// invocation is the mutable state of one Process call.
type invocation struct {
	*Pipeline
	req      model.ProcessRequest
	runID    string
	timeline *ownership.Timeline
	pending  []model.AnalysisResult
	flushed  int
}

// Process analyses req.Range of one device. The returned summary is always
// populated; the error is non-nil when the invocation failed or partially
// failed, wrapping ErrSampleStore or ErrResultStore.
func (p *Pipeline) Process(ctx context.Context, req model.ProcessRequest) (model.ProcessingSummary, error) {
	started := p.now()
	runID := uuid.NewString()
	ctx = logger.WithContext(ctx,
		logger.String("run_id", runID),
		logger.String("device_id", req.DeviceID),
	)

	sum := model.ProcessingSummary{RunID: runID, DeviceID: req.DeviceID, Range: req.Range}
	finish := func(status model.Status, err error) (model.ProcessingSummary, error) {
		sum.Status = status
		sum.Duration = p.now().Sub(started)
		if err != nil {
			sum.Error = err.Error()
		}
		metrics.RecordInvocation(string(status), float64(sum.Duration.Milliseconds()))
		p.logger.Info(ctx, "invocation finished",
			logger.String("status", string(status)),
			logger.Int("windows", sum.WindowsEmitted),
			logger.Int("skipped", sum.WindowsSkipped),
			logger.Int("degraded", sum.WindowsDegraded),
			logger.Int("rejected", sum.SamplesRejected),
			logger.Duration("duration", sum.Duration),
		)
		return sum, err
	}

	if req.DeviceID == "" || !req.Range.Valid() {
		return finish(model.StatusFailed, fmt.Errorf("%w: device %q range %d..%d",
			ErrInvalidRequest, req.DeviceID, req.Range.Start, req.Range.End))
	}

	var deadline time.Time
	if p.budget > 0 {
		deadline = started.Add(p.budget)
	}

	var raw []model.RawSample
	err := p.retry(ctx, samplesStoreName, func() error {
		var err error
		raw, err = p.samples.Samples(ctx, req.DeviceID, req.Range)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return finish(model.StatusCancelled, nil)
		}
		return finish(model.StatusFailed, fmt.Errorf("%w: %w", ErrSampleStore, err))
	}

	series := p.normalizer.Normalize(ctx, raw, req.SamplingRateHint)
	sum.SamplesRejected = series.Rejected
	sum.EffectiveRateHz = series.EffectiveRateHz
	if len(series.Samples) == 0 {
		return finish(model.StatusNoData, nil)
	}

	inv := &invocation{
		Pipeline: p,
		req:      req,
		runID:    runID,
		timeline: p.owners.Timeline(ctx, req.DeviceID, model.TimeRange{Start: series.First(), End: series.Last()}),
	}
	sum.OwnershipLost = inv.timeline.Lost()

	out, runErr := p.scheduler.Run(ctx, series, deadline, inv.emit)
	if runErr == nil {
		flushCtx := ctx
		if out.Cancelled {
			var cancel context.CancelFunc
			flushCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), cancelFlushTimeout)
			defer cancel()
		}
		runErr = inv.flush(flushCtx)
	}

	sum.WindowsEmitted = inv.flushed
	sum.WindowsSkipped = out.Skipped
	sum.WindowsDegraded = out.Degraded
	sum.WindowsFailed = out.Failed
	sum.SamplesConsumed = out.Consumed
	metrics.RecordSamplesConsumed(out.Consumed)

	switch {
	case runErr != nil && inv.flushed > 0:
		return finish(model.StatusPartial, fmt.Errorf("%w: %w", ErrResultStore, runErr))
	case runErr != nil:
		return finish(model.StatusFailed, fmt.Errorf("%w: %w", ErrResultStore, runErr))
	case out.Cancelled:
		return finish(model.StatusCancelled, nil)
	case out.Truncated:
		return finish(model.StatusTruncated, nil)
	default:
		return finish(model.StatusOK, nil)
	}
}

// emit turns a window analysis into a result and flushes full batches.
func (inv *invocation) emit(ctx context.Context, a window.Analysis) error {
	last := a.Window.Samples[len(a.Window.Samples)-1].Timestamp
	score := inv.scorer.Score(a.TremorIndex)

	r := model.AnalysisResult{
		PatientID:         inv.timeline.At(last),
		DeviceID:          inv.req.DeviceID,
		Timestamp:         a.Window.End,
		WindowStart:       a.Window.Start,
		RMS:               a.Features.RMS,
		DominantFrequency: a.Features.DominantFrequency,
		TremorPower:       a.Features.TremorPower,
		TotalPower:        a.Features.TotalPower,
		TremorIndex:       a.TremorIndex,
		TremorScore:       score.Score,
		IsParkinsonian:    a.Positive,
		Severity:          score.Severity,
		SignalQuality:     a.SignalQuality,
		SampleCount:       len(a.Window.Samples),
		SamplingRateHz:    a.RateHz,
		FilterCutoffHz:    a.CutoffHz,
		CutoffAdapted:     a.CutoffAdapted,
		Method:            a.Method,
		RunID:             inv.runID,
		RetentionExpiry:   inv.now().Add(inv.retention).Unix(),
	}
	if a.CutoffAdapted {
		metrics.RecordCutoffAdapted()
	}
	if a.Positive {
		metrics.RecordParkinsonianWindow()
	}

	inv.pending = append(inv.pending, r)
	if len(inv.pending) >= inv.flushBatch {
		return inv.flush(ctx)
	}
	return nil
}

func (inv *invocation) flush(ctx context.Context) error {
	if len(inv.pending) == 0 {
		return nil
	}
	batch := inv.pending
	err := inv.retry(ctx, resultsStoreName, func() error {
		return inv.results.Upsert(ctx, batch)
	})
	if err != nil {
		return err
	}
	inv.flushed += len(batch)
	inv.pending = inv.pending[:0]
	return nil
}

// retry runs op with bounded exponential backoff, stopping on cancellation.
func (p *Pipeline) retry(ctx context.Context, store string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryInitial
	b.MaxElapsedTime = p.retryMaxElapsed

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		metrics.RecordStoreRetry(store)
		p.logger.Warn(ctx, "store call failed, retrying",
			logger.String("store", store),
			logger.Duration("wait", wait),
			logger.Error(err),
		)
	})
}

// BackfillReport aggregates a Backfill run.
type BackfillReport struct {
	Summaries []model.ProcessingSummary
	Failed    int
}

// Backfill processes the same range for many devices with bounded
// concurrency. Per-device failures are reported in the summaries; only
// cancellation aborts the whole run.
func (p *Pipeline) Backfill(ctx context.Context, deviceIDs []string, r model.TimeRange, hintHz float64) (BackfillReport, error) {
	report := BackfillReport{Summaries: make([]model.ProcessingSummary, len(deviceIDs))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.backfillLimit)
	for i, id := range deviceIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sum, err := p.Process(gctx, model.ProcessRequest{
				DeviceID:         id,
				Range:            r,
				SamplingRateHint: hintHz,
				Source:           "backfill",
			})
			report.Summaries[i] = sum
			if err != nil {
				p.logger.Error(gctx, "backfill device failed",
					logger.String("device_id", id),
					logger.Error(err),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	for _, s := range report.Summaries {
		if s.Status == model.StatusFailed || s.Status == model.StatusPartial {
			report.Failed++
		}
	}
	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

// IsStoreError reports whether err came from a backing store.
func IsStoreError(err error) bool {
	return errors.Is(err, ErrSampleStore) || errors.Is(err, ErrResultStore)
}
