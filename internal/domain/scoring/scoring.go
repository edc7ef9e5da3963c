// Package scoring maps a window's tremor index onto the 0-100 tremor score
// and its clinical severity label.
package scoring

import (
	"math"
	"sort"
)

// Severity labels.
const (
	SeverityMinimal    = "minimal"
	SeverityMild       = "mild"
	SeverityModerate   = "moderate"
	SeveritySevere     = "severe"
	SeverityVerySevere = "very_severe"
)

const maxScoreValue = 100

// Bucket is the lowest score at which a label applies.
type Bucket struct {
	From  float64
	Label string
}

// DefaultBuckets split the score at 20, 40, 60 and 80.
var DefaultBuckets = []Bucket{
	{From: 0, Label: SeverityMinimal},
	{From: 20, Label: SeverityMild},
	{From: 40, Label: SeverityModerate},
	{From: 60, Label: SeveritySevere},
	{From: 80, Label: SeverityVerySevere},
}

// Result is a scored window.
type Result struct {
	Score    float64
	Severity string
}

// Scorer converts tremor indices to scores and labels.
type Scorer struct {
	buckets []Bucket
}

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithBuckets replaces the severity buckets. They are sorted by From; an
// empty slice keeps the defaults.
func WithBuckets(buckets []Bucket) Option {
	return func(s *Scorer) {
		if len(buckets) == 0 {
			return
		}
		s.buckets = append([]Bucket(nil), buckets...)
		sort.Slice(s.buckets, func(i, j int) bool { return s.buckets[i].From < s.buckets[j].From })
	}
}

// New creates a Scorer.
func New(opts ...Option) *Scorer {
	s := &Scorer{buckets: DefaultBuckets}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score returns index*100 clamped to [0, 100] with its severity.
func (s *Scorer) Score(tremorIndex float64) Result {
	if math.IsNaN(tremorIndex) {
		tremorIndex = 0
	}
	score := math.Max(0, math.Min(maxScoreValue, tremorIndex*maxScoreValue))
	return Result{Score: score, Severity: s.Severity(score)}
}

// Severity returns the label of the highest bucket whose From is <= score.
func (s *Scorer) Severity(score float64) string {
	label := s.buckets[0].Label
	for _, b := range s.buckets {
		if score < b.From {
			break
		}
		label = b.Label
	}
	return label
}
