package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/okian/tremor/internal/adapters/http/api"
	"github.com/okian/tremor/internal/adapters/repository"
	service "github.com/okian/tremor/internal/app"
	"github.com/okian/tremor/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type mockDeps struct {
	mu sync.Mutex

	processSum model.ProcessingSummary
	processErr error
	processed  []model.ProcessRequest

	triggerOK  bool
	triggerErr error
	triggered  []model.ProcessRequest

	ingestErr error
	ingested  []model.RawSample
	trigger   bool

	results    []model.AnalysisResult
	resultsErr error
	query      service.ResultQuery

	readyErr error
}

func (m *mockDeps) Process(_ context.Context, req model.ProcessRequest) (model.ProcessingSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = append(m.processed, req)
	return m.processSum, m.processErr
}

func (m *mockDeps) Trigger(_ context.Context, req model.ProcessRequest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggered = append(m.triggered, req)
	return m.triggerOK, m.triggerErr
}

func (m *mockDeps) Ingest(_ context.Context, _ string, samples []model.RawSample, trigger bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ingestErr != nil {
		return 0, m.ingestErr
	}
	m.ingested = append(m.ingested, samples...)
	m.trigger = trigger
	return len(samples), nil
}

func (m *mockDeps) Results(_ context.Context, q service.ResultQuery) ([]model.AnalysisResult, error) {
	m.query = q
	return m.results, m.resultsErr
}

func (m *mockDeps) Ready(context.Context) error { return m.readyErr }

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newMux(deps *mockDeps, opts ...api.Option) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}}, opts...).
		Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHealthAndStats(t *testing.T) {
	Convey("Given a registered API", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("When the service is ready", func() {
			w := do(mux, http.MethodGet, "/healthz", "")

			Convey("Then healthz answers ok", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
			})
		})

		Convey("When the service is not ready", func() {
			deps.readyErr = service.ErrNotStarted
			w := do(mux, http.MethodGet, "/healthz", "")

			Convey("Then healthz answers 503", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(w.Body.String(), ShouldContainSubstring, "not ready")
			})
		})

		Convey("When metrics are scraped", func() {
			do(mux, http.MethodGet, "/stats", "")
			w := do(mux, http.MethodGet, "/metrics", "")

			Convey("Then the registry is exposed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "tremor_")
			})
		})

		Convey("When stats are requested", func() {
			w := do(mux, http.MethodGet, "/stats", "")

			Convey("Then the provider's map is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"started":true`)
			})
		})

		Convey("When stats are posted to", func() {
			w := do(mux, http.MethodPost, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestProcess(t *testing.T) {
	Convey("Given a registered API", t, func() {
		deps := &mockDeps{
			processSum: model.ProcessingSummary{DeviceID: "d1", WindowsEmitted: 3, Status: model.StatusOK},
			triggerOK:  true,
		}
		mux := newMux(deps)

		Convey("When a synchronous request is valid", func() {
			w := do(mux, http.MethodPost, "/process", `{"device_id":"d1","start":1000,"end":9000,"sampling_rate_hint":50}`)

			Convey("Then the summary is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var sum model.ProcessingSummary
				So(json.Unmarshal(w.Body.Bytes(), &sum), ShouldBeNil)
				So(sum.WindowsEmitted, ShouldEqual, 3)
				So(deps.processed[0].Range, ShouldResemble, model.TimeRange{Start: 1000, End: 9000})
				So(deps.processed[0].SamplingRateHint, ShouldEqual, 50)
				So(deps.processed[0].Source, ShouldEqual, "http")
			})
		})

		Convey("When the store fails", func() {
			deps.processSum.Status = model.StatusPartial
			deps.processErr = service.ErrResultStore
			w := do(mux, http.MethodPost, "/process", `{"device_id":"d1","start":1000,"end":9000}`)

			Convey("Then 503 carries the partial summary", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(w.Body.String(), ShouldContainSubstring, `"status":"partial"`)
			})
		})

		Convey("When the body is invalid", func() {
			cases := []string{
				`{`,
				`{"start":1000,"end":9000}`,
				`{"device_id":"d1","start":9000,"end":1000}`,
				`{"device_id":"d1","start":0,"end":1000}`,
				`{"device_id":"d1","start":1,"end":2,"sampling_rate_hint":-1}`,
			}

			Convey("Then every case is a 400", func() {
				for _, body := range cases {
					w := do(mux, http.MethodPost, "/process", body)
					So(w.Code, ShouldEqual, http.StatusBadRequest)
				}
				So(len(deps.processed), ShouldEqual, 0)
			})
		})

		Convey("When an async request is queued", func() {
			w := do(mux, http.MethodPost, "/process", `{"device_id":"d1","start":1000,"end":9000,"async":true}`)

			Convey("Then 202 is returned", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Body.String(), ShouldContainSubstring, `"queued"`)
				So(len(deps.triggered), ShouldEqual, 1)
			})
		})

		Convey("When an async request duplicates a pending one", func() {
			deps.triggerOK = false
			w := do(mux, http.MethodPost, "/process", `{"device_id":"d1","start":1000,"end":9000,"async":true}`)

			Convey("Then it is acknowledged as a duplicate", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"duplicate":true`)
			})
		})

		Convey("When the queue is full", func() {
			deps.triggerErr = service.ErrQueueFull
			w := do(mux, http.MethodPost, "/process", `{"device_id":"d1","start":1000,"end":9000,"async":true}`)

			Convey("Then backpressure is reported", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(w.Body.String(), ShouldContainSubstring, "backpressure")
			})
		})

		Convey("When the method is wrong", func() {
			w := do(mux, http.MethodGet, "/process", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})

	Convey("Given a rate-limited API", t, func() {
		deps := &mockDeps{processSum: model.ProcessingSummary{Status: model.StatusOK}}
		mux := newMux(deps, api.WithProcessLimit(0.001, 1))

		Convey("When two requests arrive back to back", func() {
			first := do(mux, http.MethodPost, "/process", `{"device_id":"d1","start":1,"end":2}`)
			second := do(mux, http.MethodPost, "/process", `{"device_id":"d1","start":1,"end":2}`)

			Convey("Then the second is rejected", func() {
				So(first.Code, ShouldEqual, http.StatusOK)
				So(second.Code, ShouldEqual, http.StatusTooManyRequests)
				So(second.Header().Get("Retry-After"), ShouldEqual, "1")
			})
		})
	})
}

func TestSamples(t *testing.T) {
	Convey("Given a registered API", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("When a mixed batch is posted", func() {
			body := `[
				{"device_id":"d1","timestamp":1000,"accel_x":0,"accel_y":0,"accel_z":1},
				{"timestamp":1020,"magnitude":1.1},
				{"device_id":"d1","timestamp":1040,"x":[1,1],"y":[0,0],"z":[0,0],"sample_rate_hz":50},
				{"device_id":"d1","timestamp":1060,"accel_x":1},
				{"device_id":"d1","magnitude":1}
			]`
			w := do(mux, http.MethodPost, "/samples?device_id=d1", body)

			Convey("Then well-formed records are ingested and the rest counted", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Body.String(), ShouldContainSubstring, `"accepted":3`)
				So(w.Body.String(), ShouldContainSubstring, `"rejected":2`)
				So(deps.ingested[1].DeviceID, ShouldEqual, "d1")
				So(deps.trigger, ShouldBeTrue)
			})
		})

		Convey("When trigger is disabled", func() {
			w := do(mux, http.MethodPost, "/samples?trigger=false", `{"device_id":"d2","timestamp":5,"magnitude":1}`)

			Convey("Then samples are stored without analysis", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(deps.trigger, ShouldBeFalse)
			})
		})

		Convey("When the trigger flag is garbage", func() {
			w := do(mux, http.MethodPost, "/samples?trigger=maybe", `{"magnitude":1}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the body is empty", func() {
			w := do(mux, http.MethodPost, "/samples", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the store fails", func() {
			deps.ingestErr = errors.New("disk full")
			w := do(mux, http.MethodPost, "/samples", `{"device_id":"d2","timestamp":5,"magnitude":1}`)
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestResults(t *testing.T) {
	Convey("Given a registered API with stored results", t, func() {
		deps := &mockDeps{results: []model.AnalysisResult{{PatientID: "p1", DeviceID: "d1", Timestamp: 5000, TremorScore: 42}}}
		mux := newMux(deps)

		Convey("When results are queried by patient", func() {
			w := do(mux, http.MethodGet, "/results?patient_id=p1&start=0&end=10000", "")

			Convey("Then they are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var got []model.AnalysisResult
				So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
				So(len(got), ShouldEqual, 1)
				So(got[0].TremorScore, ShouldEqual, 42)
				So(deps.query.PatientID, ShouldEqual, "p1")
				So(deps.query.Range.End, ShouldEqual, 10000)
			})
		})

		Convey("When nothing matches", func() {
			deps.results = nil
			w := do(mux, http.MethodGet, "/results?device_id=d9&start=0&end=10", "")

			Convey("Then an empty array is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
			})
		})

		Convey("When the query is malformed", func() {
			So(do(mux, http.MethodGet, "/results?start=0&end=10", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/results?patient_id=p&device_id=d&start=0&end=10", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/results?patient_id=p&start=x&end=10", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/results?patient_id=p&start=0", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the range is inverted", func() {
			deps.resultsErr = repository.ErrInvalidRange
			w := do(mux, http.MethodGet, "/results?patient_id=p1&start=10&end=0", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}
