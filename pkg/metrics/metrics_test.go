package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a custom registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then metrics are registered under the tremor namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.samplesConsumed.Add(3)
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "tremor_pipeline_samples_consumed_total")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options are applied", func() {
				So(manager.namespace, ShouldEqual, "test")
				So(manager.subsystem, ShouldEqual, "unit")
				So(manager.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
				So(manager.customLabels["env"], ShouldEqual, "test")
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording pipeline outcomes", func() {
			before := testutil.ToFloat64(globalManager.invocations.WithLabelValues("ok"))
			RecordInvocation("ok", 12)
			RecordInvocation("ok", 30)

			Convey("Then the counter advances per call", func() {
				So(testutil.ToFloat64(globalManager.invocations.WithLabelValues("ok")), ShouldEqual, before+2)
			})
		})

		Convey("When recording windows by outcome", func() {
			before := testutil.ToFloat64(globalManager.windows.WithLabelValues(WindowDegraded))
			RecordWindow(WindowDegraded)

			Convey("Then only that outcome advances", func() {
				So(testutil.ToFloat64(globalManager.windows.WithLabelValues(WindowDegraded)), ShouldEqual, before+1)
			})
		})

		Convey("When recording the remaining helpers", func() {
			Convey("Then none of them panic", func() {
				So(func() {
					RecordSamplesConsumed(500)
					RecordSampleRejected("batch_length_mismatch")
					RecordCutoffAdapted()
					RecordParkinsonianWindow()
					RecordTriggerDuplicate()
					RecordOwnershipLookup("unassigned")
					RecordStoreRetry("samples")
					RecordStoreLatency("results", "upsert", 4)
					RecordIngestedSamples("mqtt", 10)
					UpdateQueueSize(3)
					UpdateQueueCapacity(10)
					UpdateQueueUtilization(0.3)
					RecordQueueEnqueue()
					RecordQueueDequeue()
					RecordQueueEnqueueError()
					RecordQueueProcessingLatency(1)
					UpdateWorkerActiveCount(4)
					RecordWorkerProcessingLatency(20)
					RecordWorkerError()
					RecordHTTPRequest("/process", "POST", "200")
					RecordHTTPRequestDuration("/process", "POST", "200", 15)
					RecordErrorByComponent("queue", "queue_full")
				}, ShouldNotPanic)
			})
		})

		Convey("When reading the registry", func() {
			Convey("Then it is the custom registry", func() {
				So(GetRegistry(), ShouldEqual, customRegistry)
			})
		})
	})
}
