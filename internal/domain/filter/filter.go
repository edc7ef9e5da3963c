// Package filter implements the zero-phase Butterworth low-pass stage.
package filter

import (
	"fmt"
)

// Defaults for the low-pass stage.
const (
	DefaultOrder = 4
	// nyquistGuard divides the sampling rate when the cutoff has to be pulled
	// below Nyquist.
	nyquistGuard   = 2.1
	minAdaptedHz   = 1.0
	samplesPerPole = 3
)

// Output is the filtered signal plus the cutoff actually used.
type Output struct {
	Signal   []float64
	CutoffHz float64
	Adapted  bool
}

// MinSamples returns the shortest input Apply accepts for the given order.
func MinSamples(order int) int {
	return order * samplesPerPole
}

// EffectiveCutoff lowers cutoffHz to rate/2.1 (at least 1 Hz) when it is at or
// above half the sampling rate.
func EffectiveCutoff(cutoffHz, rateHz float64) (float64, bool) {
	if cutoffHz < 0.5*rateHz {
		return cutoffHz, false
	}
	adapted := rateHz / nyquistGuard
	if adapted < minAdaptedHz {
		adapted = minAdaptedHz
	}
	return adapted, true
}

// Apply low-pass filters samples forward and backward so the result has no
// phase shift. The input is not modified and the output has the same length.
func Apply(samples []float64, cutoffHz, rateHz float64, order int) (Output, error) {
	if order <= 0 {
		order = DefaultOrder
	}
	if len(samples) < MinSamples(order) {
		return Output{}, fmt.Errorf("%w: %d samples, need %d", ErrTooShort, len(samples), MinSamples(order))
	}

	cutoff, adapted := EffectiveCutoff(cutoffHz, rateHz)
	sections, err := Design(order, cutoff, rateHz)
	if err != nil {
		return Output{}, err
	}

	return Output{
		Signal:   FiltFilt(sections, samples),
		CutoffHz: cutoff,
		Adapted:  adapted,
	}, nil
}

// FiltFilt runs the cascade forward then backward over an odd extension of x,
// starting each pass from steady state, and returns a slice of len(x).
func FiltFilt(sections []Section, x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return []float64{}
	}

	taps := 2*len(sections) + 1
	pad := samplesPerPole * taps
	if pad > n-1 {
		pad = n - 1
	}

	ext := make([]float64, n+2*pad)
	for i := 0; i < pad; i++ {
		ext[i] = 2*x[0] - x[pad-i]
		ext[pad+n+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[pad:], x)

	run(sections, ext, ext[0])
	reverse(ext)
	run(sections, ext, ext[0])
	reverse(ext)

	out := make([]float64, n)
	copy(out, ext[pad:pad+n])
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
