// Package metrics provides Prometheus metrics for the tremor analysis pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Window outcomes used as label values.
const (
	WindowSpectral = "spectral"
	WindowDegraded = "degraded"
	WindowSkipped  = "skipped"
	WindowFailed   = "failed"
)

// Manager manages all Prometheus metrics for the tremor service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Pipeline metrics
	invocations        *prometheus.CounterVec
	invocationLatency  prometheus.Histogram
	windows            *prometheus.CounterVec
	samplesConsumed    prometheus.Counter
	samplesRejected    *prometheus.CounterVec
	cutoffAdaptations  prometheus.Counter
	parkinsonianWindow prometheus.Counter
	triggersDuplicate  prometheus.Counter

	// Collaborator metrics
	ownershipLookups *prometheus.CounterVec
	storeRetries     *prometheus.CounterVec
	storeLatency     *prometheus.HistogramVec
	ingestedSamples  *prometheus.CounterVec

	// Queue metrics
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker metrics
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorRateByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "tremor",
		subsystem:        "pipeline",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.invocations = m.counterVec("invocations_total", "Processing invocations by final status", "status")
	m.invocationLatency = m.histogram("invocation_duration_milliseconds", "Wall time of a processing invocation in milliseconds")
	m.windows = m.counterVec("windows_total", "Analysis windows by outcome", "outcome")
	m.samplesConsumed = m.counter("samples_consumed_total", "Canonical samples consumed by invocations")
	m.samplesRejected = m.counterVec("samples_rejected_total", "Raw samples dropped during normalization", "reason")
	m.cutoffAdaptations = m.counter("filter_cutoff_adapted_total", "Windows whose low-pass cutoff was lowered below Nyquist")
	m.parkinsonianWindow = m.counter("parkinsonian_windows_total", "Windows classified tremor-positive")
	m.triggersDuplicate = m.counter("triggers_duplicate_total", "Processing triggers coalesced with a pending identical trigger")

	m.ownershipLookups = m.counterVec("ownership_lookups_total", "Ownership lookups by result", "result")
	m.storeRetries = m.counterVec("store_retries_total", "Retried store operations", "store")
	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Store operation latency in milliseconds", "store", "op")
	m.ingestedSamples = m.counterVec("ingested_samples_total", "Raw samples accepted for storage by transport", "transport")

	m.queueSize = m.gauge("queue_size", "Current size of the trigger queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the trigger queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (size / capacity)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of triggers enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of triggers dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of enqueue failures")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Enqueue latency in milliseconds")

	m.workerActiveCount = m.gauge("worker_active_count", "Number of pipeline workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker processing latency in milliseconds")
	m.workerErrorRate = m.counter("worker_errors_total", "Total number of failed worker invocations")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		"endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
}

// Pipeline Metrics Functions.

// RecordInvocation records a finished invocation with its status and duration.
func RecordInvocation(status string, latencyMs float64) {
	globalManager.invocations.WithLabelValues(status).Inc()
	globalManager.invocationLatency.Observe(latencyMs)
}

// RecordWindow records one analysis window outcome.
func RecordWindow(outcome string) {
	globalManager.windows.WithLabelValues(outcome).Inc()
}

// RecordSamplesConsumed adds n consumed canonical samples.
func RecordSamplesConsumed(n int) {
	globalManager.samplesConsumed.Add(float64(n))
}

// RecordSampleRejected records one rejected raw sample.
func RecordSampleRejected(reason string) {
	globalManager.samplesRejected.WithLabelValues(reason).Inc()
}

// RecordCutoffAdapted records a window whose cutoff was adapted.
func RecordCutoffAdapted() {
	globalManager.cutoffAdaptations.Inc()
}

// RecordParkinsonianWindow records a tremor-positive window.
func RecordParkinsonianWindow() {
	globalManager.parkinsonianWindow.Inc()
}

// RecordTriggerDuplicate records a coalesced trigger.
func RecordTriggerDuplicate() {
	globalManager.triggersDuplicate.Inc()
}

// Collaborator Metrics Functions.

// RecordOwnershipLookup records an ownership lookup result (assigned, unassigned, error).
func RecordOwnershipLookup(result string) {
	globalManager.ownershipLookups.WithLabelValues(result).Inc()
}

// RecordStoreRetry records a retried store operation.
func RecordStoreRetry(store string) {
	globalManager.storeRetries.WithLabelValues(store).Inc()
}

// RecordStoreLatency records a store operation latency.
func RecordStoreLatency(store, op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(store, op).Observe(latencyMs)
}

// RecordIngestedSamples adds n accepted raw samples for a transport.
func RecordIngestedSamples(transport string, n int) {
	globalManager.ingestedSamples.WithLabelValues(transport).Add(float64(n))
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
