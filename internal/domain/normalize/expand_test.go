package normalize

import (
	"testing"

	"github.com/okian/tremor/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestExpandBatch_Timestamps(t *testing.T) {
	Convey("Given a batch of two samples", t, func() {
		b := model.BatchTriplet{X: []float64{1, 1}, Y: []float64{0, 0}, Z: []float64{0, 0}}

		Convey("When an explicit timestamp is zero", func() {
			b.Timestamps = []int64{1000, 0}
			out, reason := expandBatch(1000, b, 50)

			Convey("Then it is rejected as a bad timestamp", func() {
				So(out, ShouldBeNil)
				So(reason, ShouldEqual, ReasonBadTimestamp)
			})
		})

		Convey("When an explicit timestamp is negative", func() {
			b.Timestamps = []int64{-5, 1000}
			_, reason := expandBatch(1000, b, 50)

			Convey("Then it is rejected as a bad timestamp", func() {
				So(reason, ShouldEqual, ReasonBadTimestamp)
			})
		})

		Convey("When the timestamps are interpolated", func() {
			out, reason := expandBatch(1000, b, 50)

			Convey("Then both samples are kept 20ms apart", func() {
				So(reason, ShouldBeEmpty)
				So(out[1].Timestamp-out[0].Timestamp, ShouldEqual, 20)
			})
		})
	})
}
