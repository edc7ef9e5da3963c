package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/tremor/internal/domain/model"
	"github.com/okian/tremor/pkg/metrics"
)

const samplesStore = "samples"

// SampleStore reads and appends raw accelerometer records.
type SampleStore struct {
	db *DB
}

// NewSampleStore creates a SampleStore.
func NewSampleStore(db *DB) *SampleStore {
	return &SampleStore{db: db}
}

// Samples returns the records of deviceID with timestamps in r, in stored
// order. Payloads that fail to decode come back as model.Malformed.
func (s *SampleStore) Samples(ctx context.Context, deviceID string, r model.TimeRange) ([]model.RawSample, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency(samplesStore, "select", float64(time.Since(start).Milliseconds()))
	}()

	rows, err := s.db.QueryContext(ctx, s.db.rebind(
		`SELECT ts_ms, payload FROM raw_samples WHERE device_id = ? AND ts_ms >= ? AND ts_ms <= ? ORDER BY ts_ms`),
		deviceID, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("query samples for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var out []model.RawSample
	for rows.Next() {
		var (
			ts      int64
			payload string
		)
		if err := rows.Scan(&ts, &payload); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		out = append(out, model.DecodeRawSample(deviceID, ts, []byte(payload)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return out, nil
}

// Append inserts records in one transaction.
func (s *SampleStore) Append(ctx context.Context, samples []model.RawSample) error {
	if len(samples) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency(samplesStore, "insert", float64(time.Since(start).Milliseconds()))
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.db.rebind(
		`INSERT INTO raw_samples (device_id, ts_ms, payload) VALUES (?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rs := range samples {
		payload, err := model.EncodeRawSample(rs)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, rs.DeviceID, rs.Timestamp, string(payload)); err != nil {
			return fmt.Errorf("insert sample for %s: %w", rs.DeviceID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Devices returns the devices with at least one record at or after since.
func (s *SampleStore) Devices(ctx context.Context, since int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.db.rebind(
		`SELECT DISTINCT device_id FROM raw_samples WHERE ts_ms >= ? ORDER BY device_id`), since)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
