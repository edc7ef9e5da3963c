package window

import (
	"errors"
	"fmt"
	"math"

	"github.com/okian/tremor/internal/domain/classify"
	"github.com/okian/tremor/internal/domain/filter"
	"github.com/okian/tremor/internal/domain/model"
	"github.com/okian/tremor/internal/domain/spectral"
)

// Window is one slice [Start, End) of the canonical series.
type Window struct {
	Start   int64
	End     int64
	Samples []model.CanonicalSample
}

// Analysis is the chain output for one window.
type Analysis struct {
	Window        Window
	RateHz        float64
	Features      spectral.Features
	TremorIndex   float64
	Positive      bool
	Method        string
	CutoffHz      float64
	CutoffAdapted bool
	SignalQuality float64
	// Fallback names why the degraded rule was used, empty for spectral windows.
	Fallback string
}

// Fallback reasons.
const (
	FallbackLowRate  = "low_rate"
	FallbackTooShort = "too_short"
	FallbackUnstable = "unstable_filter"
)

const (
	defaultMinRateHz   = 5.0
	defaultCutoffHz    = 12.0
	millisecondsPerSec = 1000.0
)

// Analyzer runs filter, extract and classify on one window.
type Analyzer struct {
	cutoffHz   float64
	order      int
	minRateHz  float64
	extractor  *spectral.Extractor
	classifier *classify.Classifier
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithCutoff sets the low-pass cutoff.
func WithCutoff(hz float64) AnalyzerOption {
	return func(a *Analyzer) {
		if hz > 0 {
			a.cutoffHz = hz
		}
	}
}

// WithOrder sets the filter order.
func WithOrder(order int) AnalyzerOption {
	return func(a *Analyzer) {
		if order > 0 {
			a.order = order
		}
	}
}

// WithMinSpectralRate sets the rate below which the degraded rule is used.
func WithMinSpectralRate(hz float64) AnalyzerOption {
	return func(a *Analyzer) {
		if hz >= 0 {
			a.minRateHz = hz
		}
	}
}

// NewAnalyzer creates an Analyzer around an extractor and classifier.
func NewAnalyzer(ex *spectral.Extractor, cl *classify.Classifier, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		cutoffHz:   defaultCutoffHz,
		order:      filter.DefaultOrder,
		minRateHz:  defaultMinRateHz,
		extractor:  ex,
		classifier: cl,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze classifies one non-empty window sampled at rateHz. Windows that
// are too short or too sparse for the spectral chain take the degraded rule;
// any other failure is returned.
func (a *Analyzer) Analyze(w Window, rateHz float64) (Analysis, error) {
	if len(w.Samples) == 0 {
		return Analysis{}, ErrEmptyWindow
	}

	raw := make([]float64, len(w.Samples))
	for i, s := range w.Samples {
		raw[i] = s.Magnitude
	}

	out := Analysis{
		Window:        w,
		RateHz:        rateHz,
		SignalQuality: signalQuality(len(raw), w, rateHz),
	}

	switch {
	case rateHz < a.minRateHz:
		return a.degraded(out, raw, FallbackLowRate), nil
	case len(raw) < filter.MinSamples(a.order):
		return a.degraded(out, raw, FallbackTooShort), nil
	}

	filtered, err := filter.Apply(raw, a.cutoffHz, rateHz, a.order)
	switch {
	case errors.Is(err, filter.ErrTooShort):
		return a.degraded(out, raw, FallbackTooShort), nil
	case errors.Is(err, filter.ErrUnstable):
		return a.degraded(out, raw, FallbackUnstable), nil
	case err != nil:
		return Analysis{}, fmt.Errorf("filter: %w", err)
	}

	f, err := a.extractor.Extract(filtered.Signal, rateHz)
	if err != nil {
		return Analysis{}, fmt.Errorf("extract: %w", err)
	}

	out.Features = f
	out.TremorIndex = f.TremorIndex()
	out.Positive = a.classifier.Classify(f, out.TremorIndex)
	out.Method = model.MethodSpectral
	out.CutoffHz = filtered.CutoffHz
	out.CutoffAdapted = filtered.Adapted
	return out, nil
}

func (a *Analyzer) degraded(out Analysis, raw []float64, reason string) Analysis {
	e := a.classifier.Degraded(raw)
	out.Features = e.Features(a.classifier.ReferenceG())
	out.TremorIndex = out.Features.TremorIndex()
	out.Positive = e.Positive
	out.Method = model.MethodDegraded
	out.Fallback = reason
	return out
}

// signalQuality is the fraction of expected samples present, capped at 1.
func signalQuality(n int, w Window, rateHz float64) float64 {
	expected := float64(w.End-w.Start) / millisecondsPerSec * rateHz
	if expected <= 0 {
		return 0
	}
	return math.Min(float64(n)/expected, 1)
}
