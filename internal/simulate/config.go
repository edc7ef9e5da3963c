// Package simulate drives a running tremord with synthetic wearable data
// and checks that tremor and normal devices are told apart.
package simulate

import "time"

// Device kinds.
const (
	KindTremor = "tremor"
	KindNormal = "normal"
)

// Record formats, one per raw sample shape the service accepts.
const (
	FormatTriplet   = "triplet"
	FormatBatch     = "batch"
	FormatMagnitude = "magnitude"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL     string        // Base URL of the service
	Devices     int           // Number of simulated devices
	TremorRatio float64       // Share of devices with a tremor
	Duration    time.Duration // Recording length per device
	RateHz      float64       // Sampling rate
	BatchSize   int           // Samples per batch record
	Workers     int           // Concurrent uploads
	Timeout     time.Duration // HTTP request timeout
	OutputFile  string        // Optional JSON report of devices and verdicts
	Verbose     bool
}

// Device is one simulated wearable.
type Device struct {
	ID        string  `json:"device_id"`
	Kind      string  `json:"kind"`
	Format    string  `json:"format"`
	FreqHz    float64 `json:"freq_hz"`
	Amplitude float64 `json:"amplitude"`
}

// Outcome is the verdict for one device.
type Outcome struct {
	Device   Device
	Windows  int
	Positive int
	Correct  bool
	Err      error
}

// Stats holds run statistics.
type Stats struct {
	DevicesGenerated int
	RecordsPosted    int
	SamplesAccepted  int
	SamplesRejected  int
	BytesPosted      int64
	WindowsAnalysed  int
	Correct          int
	Incorrect        int
	Failed           int
	StartTime        time.Time
	Duration         time.Duration
}
