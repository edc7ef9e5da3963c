// Package spectral extracts RMS and tremor-band power features from a
// filtered window.
package spectral

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// degenerateRatio is the non-DC to total energy ratio treated as zero power.
const degenerateRatio = 1e-20

// Band is an inclusive frequency range in Hz.
type Band struct {
	Low, High float64
}

// Contains reports whether f lies in the band, bounds included.
func (b Band) Contains(f float64) bool { return f >= b.Low && f <= b.High }

// DefaultBand is the Parkinsonian resting tremor band.
var DefaultBand = Band{Low: 3, High: 6}

// Features summarise one window.
type Features struct {
	RMS               float64
	DominantFrequency float64
	TremorPower       float64
	TotalPower        float64
}

// TremorIndex is in-band power over total non-DC power, clamped to [0, 1],
// and 0 when there is no power at all.
func (f Features) TremorIndex() float64 {
	if f.TotalPower <= 0 || math.IsNaN(f.TotalPower) {
		return 0
	}
	idx := f.TremorPower / f.TotalPower
	switch {
	case math.IsNaN(idx) || idx < 0:
		return 0
	case idx > 1:
		return 1
	}
	return idx
}

// Extractor computes Features for a fixed tremor band.
type Extractor struct {
	band Band
}

// New returns an Extractor for band. A zero band selects DefaultBand.
func New(band Band) *Extractor {
	if band == (Band{}) {
		band = DefaultBand
	}
	return &Extractor{band: band}
}

// Band returns the tremor band.
func (e *Extractor) Band() Band { return e.band }

// Extract computes RMS over the signal and the spectral features of its real
// FFT. The DC bin is ignored for the peak search and both power sums.
func (e *Extractor) Extract(signal []float64, rateHz float64) (Features, error) {
	if rateHz <= 0 || math.IsNaN(rateHz) || math.IsInf(rateHz, 0) {
		return Features{}, fmt.Errorf("%w: %g Hz", ErrInvalidRate, rateHz)
	}
	n := len(signal)
	if n == 0 {
		return Features{}, nil
	}

	f := Features{RMS: RMS(signal)}
	if n < 2 {
		return f, nil
	}
	energy := float64(n*n) * f.RMS * f.RMS

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, signal)

	peak := -1.0
	for k := 1; k < len(coeffs); k++ {
		mag := cmplx.Abs(coeffs[k])
		power := mag * mag
		freq := fft.Freq(k) * rateHz

		f.TotalPower += power
		if e.band.Contains(freq) {
			f.TremorPower += power
		}
		if mag > peak {
			peak = mag
			f.DominantFrequency = freq
		}
	}

	// A constant signal leaves only rounding noise outside DC.
	if f.TotalPower <= degenerateRatio*energy {
		f.TotalPower, f.TremorPower, f.DominantFrequency = 0, 0, 0
	}
	return f, nil
}

// RMS is the root mean square of x, 0 for an empty slice.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}
