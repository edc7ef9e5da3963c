package service_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/okian/tremor/internal/adapters/repository"
	service "github.com/okian/tremor/internal/app"
	"github.com/okian/tremor/internal/domain/model"
	"github.com/okian/tremor/internal/domain/ownership"
	"github.com/okian/tremor/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func openResults(t *testing.T) *repository.BadgerStore {
	t.Helper()
	s, err := repository.Open("", repository.WithInMemory())
	if err != nil {
		t.Fatalf("open results: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newPipeline(samples service.SampleSource, results service.ResultSink, assignments ownership.Source, opts ...service.PipelineOption) *service.Pipeline {
	if assignments == nil {
		assignments = &fakeAssignments{}
	}
	opts = append([]service.PipelineOption{service.WithRetry(time.Millisecond, 20*time.Millisecond)}, opts...)
	return service.NewPipeline(samples, results, ownership.NewResolver(assignments), opts...)
}

type resultView struct {
	ts       int64
	positive bool
	score    float64
}

func views(rs []model.AnalysisResult) []resultView {
	out := make([]resultView, len(rs))
	for i, r := range rs {
		out[i] = resultView{ts: r.Timestamp, positive: r.IsParkinsonian, score: r.TremorScore}
	}
	return out
}

func TestPipelineProcess(t *testing.T) {
	ctx := context.Background()

	Convey("Given five seconds of a 4.5 Hz tremor sampled at 100 Hz", t, func() {
		base := recentBase()
		samples := newFakeSamples()
		So(samples.Append(ctx, tremorTriplets("d1", base, 500, 100, 4.5, 0.5)), ShouldBeNil)
		results := openResults(t)
		req := model.ProcessRequest{DeviceID: "d1", Range: model.TimeRange{Start: base, End: base + 4990}}

		Convey("When an unassigned device is processed", func() {
			before := time.Now()
			p := newPipeline(samples, results, nil)
			sum, err := p.Process(ctx, req)
			So(err, ShouldBeNil)

			Convey("Then one parkinsonian window is stored under the device", func() {
				So(sum.Status, ShouldEqual, model.StatusOK)
				So(sum.WindowsEmitted, ShouldEqual, 1)
				So(sum.SamplesConsumed, ShouldEqual, 500)
				So(sum.RunID, ShouldNotBeEmpty)

				r, err := results.Get(ctx, model.OwnerKey(model.Unassigned, "d1"), base+5000)
				So(err, ShouldBeNil)
				So(r.PatientID, ShouldEqual, model.Unassigned)
				So(r.Method, ShouldEqual, model.MethodSpectral)
				So(math.Abs(r.DominantFrequency-4.5), ShouldBeLessThanOrEqualTo, 0.5)
				So(r.IsParkinsonian, ShouldBeTrue)
				So(r.TremorIndex, ShouldBeGreaterThan, 0.3)
				So(r.TremorScore, ShouldEqual, r.TremorIndex*100)
				So(r.RunID, ShouldEqual, sum.RunID)
				So(r.RetentionExpiry, ShouldBeBetweenOrEqual,
					before.Add(90*24*time.Hour).Unix(), time.Now().Add(90*24*time.Hour).Unix())
			})
		})

		Convey("When the device is assigned to a patient", func() {
			p := newPipeline(samples, results, &fakeAssignments{assignments: []model.Assignment{{
				DeviceID: "d1", PatientID: "p1", AssignedAt: base - 1000, Status: model.StatusActive,
			}}})
			_, err := p.Process(ctx, req)
			So(err, ShouldBeNil)

			Convey("Then the result belongs to the patient", func() {
				got, err := results.RangeByOwner(ctx, "patient/p1", model.TimeRange{Start: base, End: base + 10000})
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, 1)
				So(got[0].PatientID, ShouldEqual, "p1")
			})
		})

		Convey("When the ownership store is down", func() {
			p := newPipeline(samples, results, &fakeAssignments{err: errors.New("conn refused")})
			sum, err := p.Process(ctx, req)

			Convey("Then processing continues with an unassigned owner", func() {
				So(err, ShouldBeNil)
				So(sum.OwnershipLost, ShouldBeTrue)
				r, err := results.Get(ctx, "device/d1", base+5000)
				So(err, ShouldBeNil)
				So(r.PatientID, ShouldEqual, model.Unassigned)
			})
		})
	})

	Convey("Given a tremor recorded a hundred days ago", t, func() {
		base := time.Now().Add(-100 * 24 * time.Hour).Truncate(time.Second).UnixMilli()
		samples := newFakeSamples()
		So(samples.Append(ctx, tremorTriplets("old", base, 500, 100, 4.5, 0.5)), ShouldBeNil)
		results := openResults(t)
		written := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
		p := newPipeline(samples, results, nil,
			service.WithClock(func() time.Time { return written }),
			service.WithBudget(0),
		)

		Convey("When it is processed", func() {
			sum, err := p.Process(ctx, model.ProcessRequest{DeviceID: "old", Range: model.TimeRange{Start: base, End: base + 4990}})
			So(err, ShouldBeNil)

			Convey("Then the window is stored and expires ninety days after it was written", func() {
				So(sum.Status, ShouldEqual, model.StatusOK)
				So(sum.WindowsEmitted, ShouldEqual, 1)
				n, err := results.Count(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)

				r, err := results.Get(ctx, "device/old", base+5000)
				So(err, ShouldBeNil)
				So(r.RetentionExpiry, ShouldEqual, written.Add(90*24*time.Hour).Unix())
			})
		})
	})

	Convey("Given twelve seconds of tremor", t, func() {
		base := recentBase()
		samples := newFakeSamples()
		So(samples.Append(ctx, tremorTriplets("d1", base, 1200, 100, 4.5, 0.5)), ShouldBeNil)
		results := openResults(t)
		p := newPipeline(samples, results, nil)
		full := model.TimeRange{Start: base, End: base + 11990}
		all := model.TimeRange{Start: base, End: base + 20000}

		Convey("When the same range is processed twice", func() {
			_, err := p.Process(ctx, model.ProcessRequest{DeviceID: "d1", Range: full})
			So(err, ShouldBeNil)
			first, err := results.RangeByDevice(ctx, "d1", all)
			So(err, ShouldBeNil)

			_, err = p.Process(ctx, model.ProcessRequest{DeviceID: "d1", Range: full})
			So(err, ShouldBeNil)
			second, err := results.RangeByDevice(ctx, "d1", all)
			So(err, ShouldBeNil)

			Convey("Then the stored windows are identical and not duplicated", func() {
				So(len(first), ShouldEqual, 8)
				So(views(second), ShouldResemble, views(first))
				n, _ := results.Count(ctx)
				So(n, ShouldEqual, 8)
			})
		})

		Convey("When an overlapping range is processed afterwards", func() {
			_, err := p.Process(ctx, model.ProcessRequest{DeviceID: "d1", Range: full})
			So(err, ShouldBeNil)
			sum, err := p.Process(ctx, model.ProcessRequest{DeviceID: "d1", Range: model.TimeRange{Start: base + 3000, End: base + 11990}})
			So(err, ShouldBeNil)

			Convey("Then its windows overwrite existing keys", func() {
				So(sum.WindowsEmitted, ShouldEqual, 5)
				n, _ := results.Count(ctx)
				So(n, ShouldEqual, 8)
			})
		})

		Convey("When the result store fails after the first batch", func() {
			sink := &flakySink{succeed: 1, inner: results}
			p := newPipeline(samples, sink, nil, service.WithFlushBatch(2))
			sum, err := p.Process(ctx, model.ProcessRequest{DeviceID: "d1", Range: full})

			Convey("Then the invocation is partial", func() {
				So(errors.Is(err, service.ErrResultStore), ShouldBeTrue)
				So(errors.Is(err, errStoreDown), ShouldBeTrue)
				So(service.IsStoreError(err), ShouldBeTrue)
				So(sum.Status, ShouldEqual, model.StatusPartial)
				So(sum.WindowsEmitted, ShouldEqual, 2)
				So(sink.calls.Load(), ShouldBeGreaterThan, 2)
			})
		})

		Convey("When the result store never accepts a write", func() {
			p := newPipeline(samples, &flakySink{succeed: 0}, nil)
			sum, err := p.Process(ctx, model.ProcessRequest{DeviceID: "d1", Range: full})

			Convey("Then the invocation failed", func() {
				So(errors.Is(err, service.ErrResultStore), ShouldBeTrue)
				So(sum.Status, ShouldEqual, model.StatusFailed)
				So(sum.WindowsEmitted, ShouldEqual, 0)
			})
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			sum, err := p.Process(cctx, model.ProcessRequest{DeviceID: "d1", Range: full})

			Convey("Then the invocation reports cancellation without error", func() {
				So(err, ShouldBeNil)
				So(sum.Status, ShouldEqual, model.StatusCancelled)
				So(sum.WindowsEmitted, ShouldEqual, 0)
			})
		})
	})

	Convey("Given a recording with a long gap", t, func() {
		base := recentBase()
		samples := newFakeSamples()
		So(samples.Append(ctx, tremorTriplets("d1", base, 200, 100, 4.5, 0.5)), ShouldBeNil)
		So(samples.Append(ctx, tremorTriplets("d1", base+9000, 500, 100, 4.5, 0.5)), ShouldBeNil)
		results := openResults(t)
		p := newPipeline(samples, results, nil)

		sum, err := p.Process(ctx, model.ProcessRequest{DeviceID: "d1", Range: model.TimeRange{Start: base, End: base + 14000}})
		So(err, ShouldBeNil)

		Convey("Then no window lies wholly inside the gap", func() {
			So(sum.WindowsSkipped, ShouldBeGreaterThan, 0)
			got, err := results.RangeByDevice(ctx, "d1", model.TimeRange{Start: base, End: base + 20000})
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, sum.WindowsEmitted)
			for _, r := range got {
				So(r.SampleCount, ShouldBeGreaterThan, 0)
				inGap := r.WindowStart >= base+2000 && r.Timestamp <= base+9000
				So(inGap, ShouldBeFalse)
			}
		})
	})

	Convey("Given a device with no samples in range", t, func() {
		p := newPipeline(newFakeSamples(), openResults(t), nil)
		sum, err := p.Process(ctx, model.ProcessRequest{DeviceID: "ghost", Range: model.TimeRange{Start: 1000, End: 2000}})

		Convey("Then the status is no_data", func() {
			So(err, ShouldBeNil)
			So(sum.Status, ShouldEqual, model.StatusNoData)
		})
	})

	Convey("Given a failing sample store", t, func() {
		samples := newFakeSamples()
		samples.err = errors.New("disk gone")
		p := newPipeline(samples, openResults(t), nil)
		sum, err := p.Process(ctx, model.ProcessRequest{DeviceID: "d1", Range: model.TimeRange{Start: 1000, End: 2000}})

		Convey("Then the read is retried and then reported", func() {
			So(errors.Is(err, service.ErrSampleStore), ShouldBeTrue)
			So(sum.Status, ShouldEqual, model.StatusFailed)
			So(samples.calls.Load(), ShouldBeGreaterThan, 1)
		})
	})

	Convey("Given an invalid request", t, func() {
		p := newPipeline(newFakeSamples(), openResults(t), nil)
		_, err := p.Process(ctx, model.ProcessRequest{Range: model.TimeRange{Start: 2000, End: 1000}})

		Convey("Then ErrInvalidRequest is returned", func() {
			So(errors.Is(err, service.ErrInvalidRequest), ShouldBeTrue)
		})
	})
}

func TestPipelineBackfill(t *testing.T) {
	ctx := context.Background()

	Convey("Given two devices with data and one without", t, func() {
		base := recentBase()
		samples := newFakeSamples()
		So(samples.Append(ctx, tremorTriplets("d1", base, 500, 100, 4.5, 0.5)), ShouldBeNil)
		So(samples.Append(ctx, tremorTriplets("d2", base, 500, 100, 9, 0.5)), ShouldBeNil)
		results := openResults(t)
		p := newPipeline(samples, results, nil, service.WithBackfillConcurrency(2))

		report, err := p.Backfill(ctx, []string{"d1", "d2", "d3"}, model.TimeRange{Start: base, End: base + 5000}, 0)

		Convey("Then every device gets a summary in order", func() {
			So(err, ShouldBeNil)
			So(len(report.Summaries), ShouldEqual, 3)
			So(report.Failed, ShouldEqual, 0)
			So(report.Summaries[0].DeviceID, ShouldEqual, "d1")
			So(report.Summaries[1].Status, ShouldEqual, model.StatusOK)
			So(report.Summaries[2].Status, ShouldEqual, model.StatusNoData)

			r1, err := results.Get(ctx, "device/d1", base+5000)
			So(err, ShouldBeNil)
			So(r1.IsParkinsonian, ShouldBeTrue)
			r2, err := results.Get(ctx, "device/d2", base+5000)
			So(err, ShouldBeNil)
			So(r2.IsParkinsonian, ShouldBeFalse)
		})
	})
}
