// Package repository persists analysis results.
package repository

import (
	"context"

	"github.com/okian/tremor/internal/domain/model"
)

// Store keeps one record per result key. Writing a key that already exists
// replaces it, so reprocessing a range is idempotent.
type Store interface {
	// Upsert writes results atomically as one batch.
	Upsert(ctx context.Context, results []model.AnalysisResult) error

	// Get returns the result of ownerKey at window end ts.
	// Returns ErrNotFound if there is none or it has expired.
	Get(ctx context.Context, ownerKey string, ts int64) (model.AnalysisResult, error)

	// RangeByOwner returns the results of ownerKey with window end in r,
	// ordered by time.
	RangeByOwner(ctx context.Context, ownerKey string, r model.TimeRange) ([]model.AnalysisResult, error)

	// RangeByDevice returns the results produced from deviceID with window
	// end in r, ordered by time.
	RangeByDevice(ctx context.Context, deviceID string, r model.TimeRange) ([]model.AnalysisResult, error)

	// Count returns the number of live results.
	Count(ctx context.Context) (int, error)

	Close() error
}
