// Package ownership resolves which patient owned a device at a given time.
package ownership

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/tremor/internal/domain/model"
	"github.com/okian/tremor/pkg/logger"
	"github.com/okian/tremor/pkg/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Lookup results reported to metrics.
const (
	resultAssigned   = "assigned"
	resultUnassigned = "unassigned"
	resultError      = "error"
)

// Source returns the assignments of a device that overlap a time range.
type Source interface {
	Assignments(ctx context.Context, deviceID string, r model.TimeRange) ([]model.Assignment, error)
}

// Timeline answers ownership queries for one device over one invocation.
type Timeline struct {
	assignments []model.Assignment
	lost        bool
}

// At returns the owning patient at ts, or model.Unassigned.
func (t *Timeline) At(ts int64) string {
	if t == nil || t.lost {
		return model.Unassigned
	}
	return model.ResolveOwner(t.assignments, ts)
}

// Lost reports whether the assignment lookup failed and every timestamp
// resolves to model.Unassigned.
func (t *Timeline) Lost() bool { return t != nil && t.lost }

// Resolver fetches assignments through a circuit breaker.
type Resolver struct {
	source Source
	cb     *gobreaker.CircuitBreaker[[]model.Assignment]
	logger logger.Logger

	failures uint32
	timeout  time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithBreaker sets the consecutive failures that open the breaker and how
// long it stays open.
func WithBreaker(failures int, timeout time.Duration) Option {
	return func(r *Resolver) {
		if failures > 0 {
			r.failures = uint32(failures)
		}
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a Resolver reading from src.
func NewResolver(src Source, opts ...Option) *Resolver {
	r := &Resolver{
		source:   src,
		failures: 5,
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get().Named("ownership")
	}

	log := r.logger
	r.cb = gobreaker.NewCircuitBreaker[[]model.Assignment](gobreaker.Settings{
		Name:    "assignments",
		Timeout: r.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn(context.Background(), "assignment breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
	return r
}

// Timeline loads the assignments overlapping rng. On failure it logs, and
// returns a timeline that resolves everything to model.Unassigned.
func (r *Resolver) Timeline(ctx context.Context, deviceID string, rng model.TimeRange) *Timeline {
	as, err := r.fetch(ctx, deviceID, rng)
	if err != nil {
		r.logger.Warn(ctx, "ownership lookup failed; results will be unassigned",
			logger.String("device_id", deviceID),
			logger.Int64("range_start", rng.Start),
			logger.Int64("range_end", rng.End),
			logger.Error(err),
		)
		metrics.RecordOwnershipLookup(resultError)
		return &Timeline{lost: true}
	}
	if len(as) == 0 {
		metrics.RecordOwnershipLookup(resultUnassigned)
	} else {
		metrics.RecordOwnershipLookup(resultAssigned)
	}
	return &Timeline{assignments: as}
}

// Resolve returns the patient owning deviceID at asOf.
func (r *Resolver) Resolve(ctx context.Context, deviceID string, asOf int64) (string, error) {
	as, err := r.fetch(ctx, deviceID, model.TimeRange{Start: asOf, End: asOf})
	if err != nil {
		metrics.RecordOwnershipLookup(resultError)
		return model.Unassigned, err
	}
	owner := model.ResolveOwner(as, asOf)
	if owner == model.Unassigned {
		metrics.RecordOwnershipLookup(resultUnassigned)
	} else {
		metrics.RecordOwnershipLookup(resultAssigned)
	}
	return owner, nil
}

// State returns the breaker state name.
func (r *Resolver) State() string { return r.cb.State().String() }

func (r *Resolver) fetch(ctx context.Context, deviceID string, rng model.TimeRange) ([]model.Assignment, error) {
	as, err := r.cb.Execute(func() ([]model.Assignment, error) {
		return r.source.Assignments(ctx, deviceID, rng)
	})
	if err != nil {
		return nil, fmt.Errorf("assignments for %s: %w", deviceID, err)
	}
	return as, nil
}
