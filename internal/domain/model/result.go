package model

import (
	"fmt"
	"strconv"
	"time"
)

// Analysis methods.
const (
	MethodSpectral = "spectral"
	MethodDegraded = "degraded"
)

// TimeRange is an inclusive [Start, End] interval in milliseconds since epoch.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Valid reports whether the range is non-empty.
func (r TimeRange) Valid() bool { return r.Start > 0 && r.End >= r.Start }

// Contains reports whether ts lies in the range.
func (r TimeRange) Contains(ts int64) bool { return ts >= r.Start && ts <= r.End }

// AnalysisResult is the persisted per-window record.
type AnalysisResult struct {
	PatientID         string  `json:"patient_id"`
	DeviceID          string  `json:"device_id"`
	Timestamp         int64   `json:"timestamp"` // window end, ms
	WindowStart       int64   `json:"window_start"`
	RMS               float64 `json:"rms"`
	DominantFrequency float64 `json:"dominant_frequency"`
	TremorPower       float64 `json:"tremor_power"`
	TotalPower        float64 `json:"total_power"`
	TremorIndex       float64 `json:"tremor_index"`
	TremorScore       float64 `json:"tremor_score"`
	IsParkinsonian    bool    `json:"is_parkinsonian"`
	Severity          string  `json:"severity"`
	SignalQuality     float64 `json:"signal_quality"`
	SampleCount       int     `json:"sample_count"`
	SamplingRateHz    float64 `json:"sampling_rate_hz"`
	FilterCutoffHz    float64 `json:"filter_cutoff_hz"`
	CutoffAdapted     bool    `json:"cutoff_adapted"`
	Method            string  `json:"method"`
	RunID             string  `json:"run_id"`
	RetentionExpiry   int64   `json:"retention_expiry"` // unix seconds
}

// OwnerKey is the identity half of the result key: the patient when known,
// otherwise the device.
func (r *AnalysisResult) OwnerKey() string {
	return OwnerKey(r.PatientID, r.DeviceID)
}

// Key is the idempotent identity of a result.
func (r *AnalysisResult) Key() string {
	return r.OwnerKey() + "@" + strconv.FormatInt(r.Timestamp, 10)
}

// ExpiresAt returns the retention expiry as a time.
func (r *AnalysisResult) ExpiresAt() time.Time {
	return time.Unix(r.RetentionExpiry, 0)
}

// OwnerKey builds the owner half of a result key.
func OwnerKey(patientID, deviceID string) string {
	if patientID != "" && patientID != Unassigned {
		return "patient/" + patientID
	}
	return "device/" + deviceID
}

// ProcessRequest asks for one device's raw samples in Range to be analysed.
type ProcessRequest struct {
	DeviceID         string    `json:"device_id" validate:"required"`
	Range            TimeRange `json:"range"`
	SamplingRateHint float64   `json:"sampling_rate_hint,omitempty" validate:"gte=0"`
	Source           string    `json:"source,omitempty"`
}

// ID identifies the request for trigger coalescing.
func (r ProcessRequest) ID() string {
	return fmt.Sprintf("%s:%d:%d", r.DeviceID, r.Range.Start, r.Range.End)
}

// Status is the outcome of one invocation.
type Status string

// Invocation outcomes. Partial means some results were written before a
// fatal store error; Failed means none were.
const (
	StatusOK        Status = "ok"
	StatusNoData    Status = "no_data"
	StatusPartial   Status = "partial"
	StatusTruncated Status = "truncated"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// ProcessingSummary reports what one invocation did.
type ProcessingSummary struct {
	RunID           string        `json:"run_id"`
	DeviceID        string        `json:"device_id"`
	Range           TimeRange     `json:"range"`
	WindowsEmitted  int           `json:"windows_emitted"`
	WindowsSkipped  int           `json:"windows_skipped"`
	WindowsDegraded int           `json:"windows_degraded"`
	WindowsFailed   int           `json:"windows_failed"`
	SamplesConsumed int           `json:"samples_consumed"`
	SamplesRejected int           `json:"samples_rejected"`
	EffectiveRateHz float64       `json:"effective_rate_hz"`
	OwnershipLost   bool          `json:"ownership_degraded"`
	Status          Status        `json:"status"`
	Error           string        `json:"error,omitempty"`
	Duration        time.Duration `json:"duration"`
}
