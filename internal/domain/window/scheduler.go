// Package window slides a fixed-duration window across a canonical series
// and drives the analysis chain once per non-empty window.
package window

import (
	"context"
	"time"

	"github.com/okian/tremor/internal/domain/normalize"
	"github.com/okian/tremor/pkg/logger"
	"github.com/okian/tremor/pkg/metrics"
)

// State of a scheduler run.
type State int

// Scheduler states.
const (
	Idle State = iota
	Windowing
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Windowing:
		return "windowing"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// Emitter receives each analysed window. A non-nil error stops the run.
type Emitter func(ctx context.Context, a Analysis) error

// Outcome counts what a run did.
type Outcome struct {
	Emitted   int
	Degraded  int
	Skipped   int
	Failed    int
	Consumed  int
	Truncated bool
	Cancelled bool
}

// Scheduler holds the window geometry and the per-window analyzer. It keeps
// no per-run state and is safe for concurrent runs.
type Scheduler struct {
	window   int64 // ms
	step     int64 // ms
	analyzer *Analyzer
	logger   logger.Logger
	now      func() time.Time
	onState  func(State)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithGeometry sets the window duration and step. Both are kept in whole
// milliseconds, so values below a millisecond are ignored.
func WithGeometry(window, step time.Duration) Option {
	return func(s *Scheduler) {
		if window >= time.Millisecond && step >= time.Millisecond {
			s.window = window.Milliseconds()
			s.step = step.Milliseconds()
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock used for budget checks.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStateHook registers a callback invoked on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(s *Scheduler) {
		s.onState = fn
	}
}

// NewScheduler creates a Scheduler with a 5s window and 1s step by default.
func NewScheduler(analyzer *Analyzer, opts ...Option) *Scheduler {
	s := &Scheduler{
		window:   (5 * time.Second).Milliseconds(),
		step:     time.Second.Milliseconds(),
		analyzer: analyzer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("window")
	}
	return s
}

// run is the state of one invocation.
type run struct {
	*Scheduler
	series   normalize.Series
	deadline time.Time
	emit     Emitter
	out      Outcome
	lo, hi   int
	state    State
}

// Run windows the series. Full windows are processed while Windowing; the
// trailing partial window is processed while Draining. When the deadline
// passes the run drains without the partial window and reports truncation.
// Cancellation stops the run before the next window. An emit error stops the
// run and is returned; per-window analysis errors are logged and skipped.
func (s *Scheduler) Run(ctx context.Context, series normalize.Series, deadline time.Time, emit Emitter) (Outcome, error) {
	r := &run{Scheduler: s, series: series, deadline: deadline, emit: emit, state: Idle}
	if len(series.Samples) == 0 {
		return r.out, nil
	}
	defer r.transition(ctx, Idle)

	first, last := series.First(), series.Last()
	start := first

	r.transition(ctx, Windowing)
	for ; start+s.window <= last; start += s.step {
		if ctx.Err() != nil {
			r.out.Cancelled = true
			return r.out, nil
		}
		if r.overBudget() {
			r.out.Truncated = true
			break
		}
		if err := r.process(ctx, start); err != nil {
			return r.out, err
		}
	}

	r.transition(ctx, Draining)
	if r.out.Truncated || start > last {
		return r.out, nil
	}
	if ctx.Err() != nil {
		r.out.Cancelled = true
		return r.out, nil
	}
	if err := r.process(ctx, start); err != nil {
		return r.out, err
	}
	return r.out, nil
}

func (r *run) transition(ctx context.Context, next State) {
	if r.state == next {
		return
	}
	r.logger.Debug(ctx, "window scheduler transition",
		logger.String("from", r.state.String()),
		logger.String("to", next.String()),
	)
	r.state = next
	if r.onState != nil {
		r.onState(next)
	}
}

func (r *run) overBudget() bool {
	return !r.deadline.IsZero() && r.now().After(r.deadline)
}

// process analyses [start, start+window) and emits it when it holds samples.
func (r *run) process(ctx context.Context, start int64) error {
	end := start + r.window
	samples := r.series.Samples
	for r.lo < len(samples) && samples[r.lo].Timestamp < start {
		r.lo++
	}
	if r.hi < r.lo {
		r.hi = r.lo
	}
	for r.hi < len(samples) && samples[r.hi].Timestamp < end {
		r.hi++
	}

	if r.hi == r.lo {
		r.out.Skipped++
		metrics.RecordWindow(metrics.WindowSkipped)
		return nil
	}
	r.out.Consumed = r.hi

	w := Window{Start: start, End: end, Samples: samples[r.lo:r.hi]}
	a, err := r.analyzer.Analyze(w, r.series.EffectiveRateHz)
	if err != nil {
		r.out.Failed++
		metrics.RecordWindow(metrics.WindowFailed)
		r.logger.Error(ctx, "window analysis failed",
			logger.Int64("window_start", start),
			logger.Int64("window_end", end),
			logger.Int("samples", len(w.Samples)),
			logger.Error(err),
		)
		return nil
	}

	if err := r.emit(ctx, a); err != nil {
		return err
	}
	r.out.Emitted++
	if a.Fallback != "" {
		r.out.Degraded++
		metrics.RecordWindow(metrics.WindowDegraded)
	} else {
		metrics.RecordWindow(metrics.WindowSpectral)
	}
	return nil
}
