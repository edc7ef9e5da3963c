// Package model contains domain models passed between layers.
package model

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
)

// Format names one of the raw sample encodings.
type Format string

// Raw sample formats.
const (
	FormatTriplet   Format = "triplet"
	FormatBatch     Format = "batch"
	FormatMagnitude Format = "magnitude"
	FormatMalformed Format = "malformed"
)

// Payload is the tagged union of raw sample bodies. Exactly one of Triplet,
// BatchTriplet, Magnitude or Malformed implements it.
type Payload interface {
	Format() Format
}

// Triplet is a single three-axis acceleration reading in g.
type Triplet struct {
	X, Y, Z float64
}

// BatchTriplet is a micro-batch of equal-length axis arrays. SampleRateHz and
// Timestamps are optional; when both are absent the rate used for timestamp
// interpolation comes from the caller.
type BatchTriplet struct {
	X, Y, Z      []float64
	SampleRateHz float64
	Timestamps   []int64
}

// Magnitude is a pre-computed acceleration magnitude in g.
type Magnitude struct {
	Value float64
}

// Malformed carries a record that matched no known format.
type Malformed struct {
	Reason string
}

func (Triplet) Format() Format      { return FormatTriplet }
func (BatchTriplet) Format() Format { return FormatBatch }
func (Magnitude) Format() Format    { return FormatMagnitude }
func (Malformed) Format() Format    { return FormatMalformed }

// RawSample is one physical record as written by a device.
type RawSample struct {
	DeviceID  string
	Timestamp int64 // milliseconds since epoch
	Payload   Payload
}

// CanonicalSample is the normalized (timestamp, magnitude) pair.
type CanonicalSample struct {
	Timestamp int64
	Magnitude float64
}

// wireSample is the JSON shape shared by storage, MQTT and HTTP ingestion.
// Pointers distinguish missing fields from zero values.
type wireSample struct {
	DeviceID  string `json:"device_id"`
	Timestamp int64  `json:"timestamp"`

	Magnitude *float64 `json:"magnitude,omitempty"`

	AccelX *float64 `json:"accel_x,omitempty"`
	AccelY *float64 `json:"accel_y,omitempty"`
	AccelZ *float64 `json:"accel_z,omitempty"`

	X            []float64 `json:"x,omitempty"`
	Y            []float64 `json:"y,omitempty"`
	Z            []float64 `json:"z,omitempty"`
	LegacyX      []float64 `json:"accelerometer_x,omitempty"`
	LegacyY      []float64 `json:"accelerometer_y,omitempty"`
	LegacyZ      []float64 `json:"accelerometer_z,omitempty"`
	SampleRateHz float64   `json:"sample_rate_hz,omitempty"`
	Timestamps   []int64   `json:"timestamps,omitempty"`
}

// payload picks the record format by capability, in a fixed order:
// pre-computed magnitude, single triplet, then axis arrays.
func (w *wireSample) payload() Payload {
	switch {
	case w.Magnitude != nil:
		return Magnitude{Value: *w.Magnitude}
	case w.AccelX != nil || w.AccelY != nil || w.AccelZ != nil:
		if w.AccelX == nil || w.AccelY == nil || w.AccelZ == nil {
			return Malformed{Reason: "incomplete_triplet"}
		}
		return Triplet{X: *w.AccelX, Y: *w.AccelY, Z: *w.AccelZ}
	case w.X != nil || w.Y != nil || w.Z != nil:
		return BatchTriplet{X: w.X, Y: w.Y, Z: w.Z, SampleRateHz: w.SampleRateHz, Timestamps: w.Timestamps}
	case w.LegacyX != nil || w.LegacyY != nil || w.LegacyZ != nil:
		return BatchTriplet{X: w.LegacyX, Y: w.LegacyY, Z: w.LegacyZ, SampleRateHz: w.SampleRateHz, Timestamps: w.Timestamps}
	default:
		return Malformed{Reason: "no_known_fields"}
	}
}

// DecodeRawSample decodes one JSON record. Undecodable input never errors:
// it yields a Malformed payload so normalization can drop and count it.
// deviceID and ts are used when the record does not carry its own.
func DecodeRawSample(deviceID string, ts int64, data []byte) RawSample {
	var w wireSample
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return RawSample{DeviceID: deviceID, Timestamp: ts, Payload: Malformed{Reason: "invalid_json"}}
	}
	if w.DeviceID == "" {
		w.DeviceID = deviceID
	}
	if w.Timestamp == 0 {
		w.Timestamp = ts
	}
	return RawSample{DeviceID: w.DeviceID, Timestamp: w.Timestamp, Payload: w.payload()}
}

// DecodeRawSamples decodes either a single JSON record or a JSON array of records.
func DecodeRawSamples(deviceID string, data []byte) ([]RawSample, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidSample)
	}
	if trimmed[0] != '[' {
		return []RawSample{DecodeRawSample(deviceID, 0, trimmed)}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}
	out := make([]RawSample, 0, len(items))
	for _, item := range items {
		out = append(out, DecodeRawSample(deviceID, 0, item))
	}
	return out, nil
}

// EncodeRawSample renders a sample in the shared JSON shape.
func EncodeRawSample(s RawSample) ([]byte, error) {
	w := wireSample{DeviceID: s.DeviceID, Timestamp: s.Timestamp}
	switch p := s.Payload.(type) {
	case Magnitude:
		v := p.Value
		w.Magnitude = &v
	case Triplet:
		x, y, z := p.X, p.Y, p.Z
		w.AccelX, w.AccelY, w.AccelZ = &x, &y, &z
	case BatchTriplet:
		w.X, w.Y, w.Z = p.X, p.Y, p.Z
		w.SampleRateHz = p.SampleRateHz
		w.Timestamps = p.Timestamps
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrInvalidSample, s.Payload)
	}
	return json.Marshal(w)
}

// UnmarshalJSON lets RawSample be embedded in request bodies directly.
func (s *RawSample) UnmarshalJSON(data []byte) error {
	*s = DecodeRawSample("", 0, data)
	return nil
}

// MarshalJSON renders the shared JSON shape.
func (s RawSample) MarshalJSON() ([]byte, error) {
	return EncodeRawSample(s)
}
