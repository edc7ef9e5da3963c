// Package classify labels analysis windows as tremor-positive.
//
// Two rules exist. Classify is the spectral rule and needs reliable
// features. Degraded is the amplitude-only estimate for windows that are too
// short or too sparsely sampled for filtering and an FFT; callers choose it
// explicitly.
package classify

import (
	"math"

	"github.com/okian/tremor/internal/domain/spectral"
)

// Defaults.
const (
	DefaultIndexThreshold   = 0.3
	DefaultSevereReferenceG = 0.2
)

// Classifier holds the decision parameters.
type Classifier struct {
	band       spectral.Band
	threshold  float64
	referenceG float64
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithBand sets the tremor band.
func WithBand(b spectral.Band) Option {
	return func(c *Classifier) {
		if b.High > b.Low {
			c.band = b
		}
	}
}

// WithThreshold sets the tremor index threshold shared by both rules.
func WithThreshold(t float64) Option {
	return func(c *Classifier) {
		if t >= 0 && t <= 1 {
			c.threshold = t
		}
	}
}

// WithSevereReference sets the AC RMS amplitude, in g, treated as index 1 by
// the degraded rule.
func WithSevereReference(g float64) Option {
	return func(c *Classifier) {
		if g > 0 {
			c.referenceG = g
		}
	}
}

// New creates a Classifier.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		band:       spectral.DefaultBand,
		threshold:  DefaultIndexThreshold,
		referenceG: DefaultSevereReferenceG,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify applies the spectral rule: dominant frequency inside the band and
// tremor index strictly above the threshold.
func (c *Classifier) Classify(f spectral.Features, tremorIndex float64) bool {
	return c.band.Contains(f.DominantFrequency) && tremorIndex > c.threshold
}

// Estimate is the outcome of the degraded rule.
type Estimate struct {
	RMS      float64 // total RMS of the raw window
	ACRMS    float64 // RMS after removing the mean
	Index    float64 // ACRMS / reference, capped at 1
	Positive bool
}

// Features renders the estimate as window features. Total power is chosen so
// that TremorPower/TotalPower equals Index.
func (e Estimate) Features(referenceG float64) spectral.Features {
	return spectral.Features{
		RMS:         e.RMS,
		TremorPower: e.ACRMS * e.ACRMS,
		TotalPower:  e.ACRMS * math.Max(e.ACRMS, referenceG),
	}
}

// Degraded estimates tremor from amplitude alone on the unfiltered window.
func (c *Classifier) Degraded(raw []float64) Estimate {
	if len(raw) == 0 {
		return Estimate{}
	}
	var mean float64
	for _, v := range raw {
		mean += v
	}
	mean /= float64(len(raw))

	ac := make([]float64, len(raw))
	for i, v := range raw {
		ac[i] = v - mean
	}

	e := Estimate{RMS: spectral.RMS(raw), ACRMS: spectral.RMS(ac)}
	e.Index = math.Min(e.ACRMS/c.referenceG, 1)
	e.Positive = e.Index > c.threshold
	return e
}

// ReferenceG returns the severe tremor reference amplitude.
func (c *Classifier) ReferenceG() float64 { return c.referenceG }
