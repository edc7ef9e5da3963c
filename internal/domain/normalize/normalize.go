// Package normalize turns heterogeneous raw records into one ordered
// magnitude series and estimates its effective sampling rate.
package normalize

import (
	"context"
	"math"
	"sort"

	"github.com/okian/tremor/internal/domain/model"
	"github.com/okian/tremor/pkg/logger"
	"github.com/okian/tremor/pkg/metrics"
)

const defaultNominalRateHz = 50.0

// Rejection reasons.
const (
	ReasonMissingDevice   = "missing_device"
	ReasonBadTimestamp    = "bad_timestamp"
	ReasonNonFinite       = "non_finite_value"
	ReasonNegativeMag     = "negative_magnitude"
	ReasonLengthMismatch  = "batch_length_mismatch"
	ReasonEmptyBatch      = "empty_batch"
	ReasonTimestampsCount = "batch_timestamps_mismatch"
)

// Series is the canonical, ascending magnitude series of one invocation.
type Series struct {
	Samples         []model.CanonicalSample
	EffectiveRateHz float64
	// Estimated is false when the rate fell back to the hint or nominal rate.
	Estimated bool
	Rejected  int
}

// First returns the first timestamp; the series must not be empty.
func (s Series) First() int64 { return s.Samples[0].Timestamp }

// Last returns the last timestamp; the series must not be empty.
func (s Series) Last() int64 { return s.Samples[len(s.Samples)-1].Timestamp }

// Normalizer converts raw samples to a Series.
type Normalizer struct {
	nominalRateHz float64
	logger        logger.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithNominalRate sets the rate used when no better estimate exists.
func WithNominalRate(hz float64) Option {
	return func(n *Normalizer) {
		if hz > 0 {
			n.nominalRateHz = hz
		}
	}
}

// WithLogger sets the logger used for rejected samples.
func WithLogger(l logger.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{nominalRateHz: defaultNominalRateHz}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = logger.Get().Named("normalize")
	}
	return n
}

// Normalize expands, validates and sorts raw samples. hintHz, when positive,
// replaces the nominal rate both as the batch interpolation rate and as the
// fallback effective rate. A malformed sample is dropped and logged; it never
// fails the call.
func (n *Normalizer) Normalize(ctx context.Context, raw []model.RawSample, hintHz float64) Series {
	fallback := n.nominalRateHz
	if hintHz > 0 {
		fallback = hintHz
	}

	out := Series{Samples: make([]model.CanonicalSample, 0, len(raw))}
	for i := range raw {
		expanded, reason := expand(&raw[i], fallback)
		if reason != "" {
			out.Rejected++
			metrics.RecordSampleRejected(reason)
			n.logger.Warn(ctx, "dropping malformed sample",
				logger.String("device_id", raw[i].DeviceID),
				logger.Int64("timestamp", raw[i].Timestamp),
				logger.String("reason", reason),
			)
			continue
		}
		out.Samples = append(out.Samples, expanded...)
	}

	sort.SliceStable(out.Samples, func(i, j int) bool {
		return out.Samples[i].Timestamp < out.Samples[j].Timestamp
	})

	out.EffectiveRateHz, out.Estimated = EffectiveRate(out.Samples, fallback)
	return out
}

// EffectiveRate returns count / (t_last - t_first) in Hz for an ascending
// series, or fallback when fewer than two samples exist or the span is zero.
func EffectiveRate(samples []model.CanonicalSample, fallback float64) (float64, bool) {
	if len(samples) < 2 {
		return fallback, false
	}
	span := float64(samples[len(samples)-1].Timestamp-samples[0].Timestamp) / 1000
	if span <= 0 {
		return fallback, false
	}
	return float64(len(samples)) / span, true
}

// expand returns the canonical samples of one raw record, or a rejection reason.
func expand(s *model.RawSample, rateHz float64) ([]model.CanonicalSample, string) {
	if s.DeviceID == "" {
		return nil, ReasonMissingDevice
	}
	if s.Timestamp <= 0 {
		return nil, ReasonBadTimestamp
	}

	switch p := s.Payload.(type) {
	case model.Magnitude:
		if !finite(p.Value) {
			return nil, ReasonNonFinite
		}
		if p.Value < 0 {
			return nil, ReasonNegativeMag
		}
		return []model.CanonicalSample{{Timestamp: s.Timestamp, Magnitude: p.Value}}, ""

	case model.Triplet:
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			return nil, ReasonNonFinite
		}
		return []model.CanonicalSample{{Timestamp: s.Timestamp, Magnitude: norm(p.X, p.Y, p.Z)}}, ""

	case model.BatchTriplet:
		return expandBatch(s.Timestamp, p, rateHz)

	case model.Malformed:
		return nil, p.Reason

	default:
		return nil, "unknown_format"
	}
}

// expandBatch spreads a micro-batch over per-sample timestamps: explicit
// ones when given, else interpolated from the batch rate (or rateHz).
func expandBatch(ts int64, b model.BatchTriplet, rateHz float64) ([]model.CanonicalSample, string) {
	n := len(b.X)
	if len(b.Y) != n || len(b.Z) != n {
		return nil, ReasonLengthMismatch
	}
	if n == 0 {
		return nil, ReasonEmptyBatch
	}
	if b.Timestamps != nil && len(b.Timestamps) != n {
		return nil, ReasonTimestampsCount
	}
	for _, at := range b.Timestamps {
		if at <= 0 {
			return nil, ReasonBadTimestamp
		}
	}

	rate := rateHz
	if b.SampleRateHz > 0 {
		rate = b.SampleRateHz
	}
	periodMs := 1000 / rate

	out := make([]model.CanonicalSample, n)
	for i := 0; i < n; i++ {
		if !finite(b.X[i]) || !finite(b.Y[i]) || !finite(b.Z[i]) {
			return nil, ReasonNonFinite
		}
		at := ts + int64(math.Round(float64(i)*periodMs))
		if b.Timestamps != nil {
			at = b.Timestamps[i]
		}
		out[i] = model.CanonicalSample{Timestamp: at, Magnitude: norm(b.X[i], b.Y[i], b.Z[i])}
	}
	return out, ""
}

func norm(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
