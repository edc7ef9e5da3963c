// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Keys are flat and snake_case so that TREMOR_<KEY> env vars map 1:1.
//   - New returns defaults; Load layers file and env on top and validates.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn warning error"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`

	// QueueSize bounds the in-memory trigger queue.
	QueueSize int `koanf:"queue_size" validate:"min=1"`
	// WorkerCount sets the number of pipeline workers.
	WorkerCount int `koanf:"worker_count" validate:"min=1"`
	// DedupeSize bounds the pending-trigger coalescing cache.
	DedupeSize int `koanf:"dedupe_size" validate:"min=0"`

	// Window and Step drive the sliding analysis window.
	Window time.Duration `koanf:"window" validate:"gt=0"`
	Step   time.Duration `koanf:"step" validate:"gt=0"`
	// NominalRateHz is the sampling rate assumed when it cannot be estimated.
	NominalRateHz float64 `koanf:"nominal_rate_hz" validate:"gt=0"`
	// MinSpectralRateHz is the rate below which windows use the degraded classifier.
	MinSpectralRateHz float64 `koanf:"min_spectral_rate_hz" validate:"gte=0"`
	CutoffHz          float64 `koanf:"cutoff_hz" validate:"gt=0"`
	FilterOrder       int     `koanf:"filter_order" validate:"min=1,max=12"`
	BandLowHz         float64 `koanf:"band_low_hz" validate:"gte=0"`
	BandHighHz        float64 `koanf:"band_high_hz" validate:"gt=0"`
	IndexThreshold    float64 `koanf:"index_threshold" validate:"gte=0,lte=1"`
	SevereReferenceG  float64 `koanf:"severe_reference_g" validate:"gt=0"`
	// Budget bounds the wall time of a single invocation.
	Budget time.Duration `koanf:"budget" validate:"gt=0"`
	// Retention is the result time-to-live measured from the window end.
	Retention  time.Duration `koanf:"retention" validate:"gt=0"`
	FlushBatch int           `koanf:"flush_batch" validate:"min=1"`

	// Store retry and ownership breaker settings.
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval" validate:"gt=0"`
	RetryMaxElapsed      time.Duration `koanf:"retry_max_elapsed" validate:"gt=0"`
	BreakerFailures      int           `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout       time.Duration `koanf:"breaker_timeout" validate:"gt=0"`

	// SamplesDriver is sqlite3 or postgres; SamplesDSN is passed to sql.Open.
	SamplesDriver string `koanf:"samples_driver" validate:"oneof=sqlite3 postgres"`
	SamplesDSN    string `koanf:"samples_dsn" validate:"required"`
	// ResultsDir is the Badger directory; empty runs the result store in memory.
	ResultsDir string `koanf:"results_dir"`

	RedisEnabled bool   `koanf:"redis_enabled"`
	RedisAddr    string `koanf:"redis_addr" validate:"required_if=RedisEnabled true"`
	RedisStream  string `koanf:"redis_stream" validate:"required_if=RedisEnabled true"`
	RedisGroup   string `koanf:"redis_group" validate:"required_if=RedisEnabled true"`

	MQTTEnabled  bool   `koanf:"mqtt_enabled"`
	MQTTBroker   string `koanf:"mqtt_broker" validate:"required_if=MQTTEnabled true"`
	MQTTTopic    string `koanf:"mqtt_topic" validate:"required_if=MQTTEnabled true"`
	MQTTClientID string `koanf:"mqtt_client_id"`

	ScheduleEnabled  bool          `koanf:"schedule_enabled"`
	ScheduleInterval time.Duration `koanf:"schedule_interval" validate:"gt=0"`
	ScheduleLookback time.Duration `koanf:"schedule_lookback" validate:"gt=0"`

	// ProcessRPS and ProcessBurst rate-limit POST /process.
	ProcessRPS   float64 `koanf:"process_rps" validate:"gt=0"`
	ProcessBurst int     `koanf:"process_burst" validate:"min=1"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:    "info",
		LogFormat:   "text",
		Addr:        ":9080",
		QueueSize:   1024,
		WorkerCount: runtime.NumCPU(),
		DedupeSize:  4096,

		Window:            5 * time.Second,
		Step:              time.Second,
		NominalRateHz:     50,
		MinSpectralRateHz: 5,
		CutoffHz:          12,
		FilterOrder:       4,
		BandLowHz:         3,
		BandHighHz:        6,
		IndexThreshold:    0.3,
		SevereReferenceG:  0.2,
		Budget:            30 * time.Second,
		Retention:         90 * 24 * time.Hour,
		FlushBatch:        64,

		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxElapsed:      5 * time.Second,
		BreakerFailures:      5,
		BreakerTimeout:       30 * time.Second,

		SamplesDriver: "sqlite3",
		SamplesDSN:    "file:tremor.db?_busy_timeout=5000",

		RedisAddr:   "127.0.0.1:6379",
		RedisStream: "tremor:samples:new",
		RedisGroup:  "tremor-pipeline",

		MQTTBroker:   "tcp://127.0.0.1:1883",
		MQTTTopic:    "tremor/+/samples",
		MQTTClientID: "tremord",

		ScheduleEnabled:  true,
		ScheduleInterval: time.Minute,
		ScheduleLookback: 5 * time.Minute,

		ProcessRPS:   20,
		ProcessBurst: 40,
	}
}
