package scoring_test

import (
	"math"
	"testing"

	scoring "github.com/okian/tremor/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func TestScorer_Score(t *testing.T) {
	Convey("Given the default scorer", t, func() {
		scorer := scoring.New()

		Convey("When scoring indices across the range", func() {
			Convey("Then the score is index*100 with the matching label", func() {
				cases := []struct {
					index    float64
					score    float64
					severity string
				}{
					{0, 0, scoring.SeverityMinimal},
					{0.199, 19.9, scoring.SeverityMinimal},
					{0.2, 20, scoring.SeverityMild},
					{0.45, 45, scoring.SeverityModerate},
					{0.6, 60, scoring.SeveritySevere},
					{0.8, 80, scoring.SeverityVerySevere},
					{1, 100, scoring.SeverityVerySevere},
				}
				for _, c := range cases {
					r := scorer.Score(c.index)
					So(r.Score, ShouldAlmostEqual, c.score, 1e-9)
					So(r.Severity, ShouldEqual, c.severity)
				}
			})
		})

		Convey("When the index is out of range or NaN", func() {
			Convey("Then the score is clamped", func() {
				So(scorer.Score(1.7).Score, ShouldEqual, 100)
				So(scorer.Score(-0.2).Score, ShouldEqual, 0)
				So(scorer.Score(math.NaN()).Score, ShouldEqual, 0)
			})
		})
	})

	Convey("Given custom buckets in any order", t, func() {
		scorer := scoring.New(scoring.WithBuckets([]scoring.Bucket{
			{From: 50, Label: "high"},
			{From: 0, Label: "low"},
		}))

		Convey("Then they are applied sorted", func() {
			So(scorer.Severity(10), ShouldEqual, "low")
			So(scorer.Severity(50), ShouldEqual, "high")
		})
	})
}
