package filter

import (
	"fmt"
	"math"
)

// Section is one second-order (biquad) stage in transposed direct form II,
// normalised so that a0 == 1. First-order stages have B2 == A2 == 0.
type Section struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// Design returns the cascaded sections of an order-N digital Butterworth
// low-pass with the given cutoff, via the bilinear transform with frequency
// pre-warping. Every section has unit DC gain.
func Design(order int, cutoffHz, rateHz float64) ([]Section, error) {
	if order < 1 {
		return nil, fmt.Errorf("%w: order %d", ErrInvalidArgs, order)
	}
	if rateHz <= 0 || cutoffHz <= 0 {
		return nil, fmt.Errorf("%w: cutoff %g Hz at %g Hz", ErrInvalidArgs, cutoffHz, rateHz)
	}
	if cutoffHz >= rateHz/2 {
		return nil, fmt.Errorf("%w: cutoff %g Hz not below Nyquist of %g Hz", ErrUnstable, cutoffHz, rateHz)
	}

	k := math.Tan(math.Pi * cutoffHz / rateHz)
	k2 := k * k

	sections := make([]Section, 0, (order+1)/2)
	for m := 1; m <= order/2; m++ {
		// Angle of the m-th analog pole pair measured from the negative real axis.
		psi := math.Pi/2 - math.Pi*float64(2*m-1)/float64(2*order)
		q := 1 / (2 * math.Cos(psi))

		norm := 1 / (1 + k/q + k2)
		b0 := k2 * norm
		sections = append(sections, Section{
			B0: b0,
			B1: 2 * b0,
			B2: b0,
			A1: 2 * (k2 - 1) * norm,
			A2: (1 - k/q + k2) * norm,
		})
	}
	if order%2 == 1 {
		norm := 1 / (1 + k)
		sections = append(sections, Section{
			B0: k * norm,
			B1: k * norm,
			A1: (k - 1) * norm,
		})
	}
	return sections, nil
}

// steadyState returns the section state that produces a unit step response
// with no transient.
func (s Section) steadyState() [2]float64 {
	gain := (s.B0 + s.B1 + s.B2) / (1 + s.A1 + s.A2)
	z2 := s.B2 - s.A2*gain
	z1 := s.B1 - s.A1*gain + z2
	return [2]float64{z1, z2}
}

// run filters x in place through the cascade starting from state x0 * zi.
func run(sections []Section, x []float64, x0 float64) {
	for _, s := range sections {
		zi := s.steadyState()
		z1, z2 := zi[0]*x0, zi[1]*x0
		for i, in := range x {
			out := s.B0*in + z1
			z1 = s.B1*in - s.A1*out + z2
			z2 = s.B2*in - s.A2*out
			x[i] = out
		}
	}
}
