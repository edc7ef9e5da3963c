package simulate

import (
	"crypto/rand"
	"math"
	"math/big"

	"github.com/google/uuid"
	"github.com/okian/tremor/internal/domain/model"
)

// Signal ranges. Tremor devices oscillate inside the 3 to 6 Hz band with a
// clearly visible amplitude; normal devices drift slowly with a small one.
const (
	randomFloatDivisor = 1000000

	tremorFreqMin  = 3.8
	tremorFreqSpan = 1.6
	tremorAmpMin   = 0.3
	tremorAmpSpan  = 0.3

	normalFreqMin  = 0.5
	normalFreqSpan = 1.0
	normalAmpMin   = 0.01
	normalAmpSpan  = 0.03

	gravity = 1.0
)

var formats = []string{FormatTriplet, FormatBatch, FormatMagnitude}

// getRandomFloat returns a random float64 in [0, 1) using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// generateDevices creates n devices, the first ratio*n with a tremor, and
// rotates through the record formats.
func generateDevices(n int, ratio float64) []Device {
	tremors := int(math.Round(float64(n) * ratio))
	out := make([]Device, n)
	for i := range out {
		d := Device{ID: "sim-" + uuid.NewString(), Format: formats[i%len(formats)]}
		if i < tremors {
			d.Kind = KindTremor
			d.FreqHz = tremorFreqMin + getRandomFloat()*tremorFreqSpan
			d.Amplitude = tremorAmpMin + getRandomFloat()*tremorAmpSpan
		} else {
			d.Kind = KindNormal
			d.FreqHz = normalFreqMin + getRandomFloat()*normalFreqSpan
			d.Amplitude = normalAmpMin + getRandomFloat()*normalAmpSpan
		}
		out[i] = d
	}
	return out
}

// axes returns the acceleration at t seconds. The oscillation rides on the
// gravity axis so the magnitude keeps the device's frequency.
func (d Device) axes(t float64) (x, y, z float64) {
	return 0, 0, gravity + d.Amplitude*math.Sin(2*math.Pi*d.FreqHz*t)
}

// records renders n samples starting at startMs in the device's format.
func (d Device) records(startMs int64, n int, rateHz float64, batch int) []model.RawSample {
	at := func(i int) (int64, float64) {
		t := float64(i) / rateHz
		return startMs + int64(math.Round(t*1000)), t
	}

	var out []model.RawSample
	switch d.Format {
	case FormatBatch:
		if batch < 1 {
			batch = 1
		}
		for i := 0; i < n; i += batch {
			size := min(batch, n-i)
			b := model.BatchTriplet{
				X: make([]float64, size), Y: make([]float64, size), Z: make([]float64, size),
				SampleRateHz: rateHz,
			}
			for j := 0; j < size; j++ {
				_, t := at(i + j)
				b.X[j], b.Y[j], b.Z[j] = d.axes(t)
			}
			ts, _ := at(i)
			out = append(out, model.RawSample{DeviceID: d.ID, Timestamp: ts, Payload: b})
		}
	case FormatMagnitude:
		out = make([]model.RawSample, n)
		for i := range out {
			ts, t := at(i)
			x, y, z := d.axes(t)
			out[i] = model.RawSample{DeviceID: d.ID, Timestamp: ts, Payload: model.Magnitude{Value: math.Sqrt(x*x + y*y + z*z)}}
		}
	default:
		out = make([]model.RawSample, n)
		for i := range out {
			ts, t := at(i)
			x, y, z := d.axes(t)
			out[i] = model.RawSample{DeviceID: d.ID, Timestamp: ts, Payload: model.Triplet{X: x, Y: y, Z: z}}
		}
	}
	return out
}
