package repository

import (
	"time"

	"github.com/okian/tremor/pkg/logger"
)

// Option applies a configuration option to the BadgerStore.
type Option func(*BadgerStore)

// WithInMemory keeps the database in memory. The directory is ignored.
func WithInMemory() Option {
	return func(s *BadgerStore) {
		s.inMemory = true
	}
}

// WithClock overrides the clock used to compute retention TTLs.
func WithClock(now func() time.Time) Option {
	return func(s *BadgerStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger. Badger's own log lines are routed through it.
func WithLogger(l logger.Logger) Option {
	return func(s *BadgerStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGCInterval sets how often value log garbage collection runs.
// Zero disables it.
func WithGCInterval(d time.Duration) Option {
	return func(s *BadgerStore) {
		s.gcInterval = d
	}
}
