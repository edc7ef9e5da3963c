package service_test

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	service "github.com/okian/tremor/internal/app"
	"github.com/okian/tremor/internal/domain/model"
)

// fakeSamples is an in-memory SampleStore.
type fakeSamples struct {
	mu    sync.Mutex
	data  map[string][]model.RawSample
	err   error
	calls atomic.Int32
	// gate, when set, blocks reads until closed.
	gate chan struct{}
}

func newFakeSamples() *fakeSamples {
	return &fakeSamples{data: make(map[string][]model.RawSample)}
}

func (f *fakeSamples) Samples(_ context.Context, deviceID string, r model.TimeRange) ([]model.RawSample, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []model.RawSample
	for _, s := range f.data[deviceID] {
		if r.Contains(s.Timestamp) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSamples) Append(_ context.Context, samples []model.RawSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, s := range samples {
		f.data[s.DeviceID] = append(f.data[s.DeviceID], s)
	}
	return nil
}

func (f *fakeSamples) Devices(_ context.Context, since int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id, ss := range f.data {
		for _, s := range ss {
			if s.Timestamp >= since {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// fakeAssignments is an in-memory ownership source.
type fakeAssignments struct {
	assignments []model.Assignment
	err         error
}

func (f *fakeAssignments) Assignments(_ context.Context, deviceID string, _ model.TimeRange) ([]model.Assignment, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Assignment
	for _, a := range f.assignments {
		if a.DeviceID == deviceID {
			out = append(out, a)
		}
	}
	return out, nil
}

// flakySink lets the first succeed upserts through, then fails every
// later one. A negative succeed never fails.
type flakySink struct {
	succeed int32
	inner   service.ResultSink
	calls   atomic.Int32
}

var errStoreDown = errors.New("store down")

func (f *flakySink) Upsert(ctx context.Context, results []model.AnalysisResult) error {
	n := f.calls.Add(1)
	if f.succeed >= 0 && n > f.succeed {
		return errStoreDown
	}
	if f.inner == nil {
		return nil
	}
	return f.inner.Upsert(ctx, results)
}

// recentBase returns a timestamp an hour ago, whole seconds, so results
// stay inside their retention.
func recentBase() int64 {
	return time.Now().Add(-time.Hour).Truncate(time.Second).UnixMilli()
}

// tremorTriplets returns n triplet records at rateHz whose magnitude is
// 1 g plus a sinusoid of freqHz and amplitude amp.
func tremorTriplets(device string, from int64, n int, rateHz, freqHz, amp float64) []model.RawSample {
	out := make([]model.RawSample, n)
	for i := range out {
		t := float64(i) / rateHz
		out[i] = model.RawSample{
			DeviceID:  device,
			Timestamp: from + int64(math.Round(float64(i)*1000/rateHz)),
			Payload:   model.Triplet{X: 0, Y: 0, Z: 1 + amp*math.Sin(2*math.Pi*freqHz*t)},
		}
	}
	return out
}
