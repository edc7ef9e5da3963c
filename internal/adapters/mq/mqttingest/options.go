package mqttingest

import (
	"time"

	"github.com/okian/tremor/pkg/logger"
)

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithQoS sets the subscription quality of service.
func WithQoS(qos byte) Option {
	return func(s *Subscriber) {
		if qos <= 2 {
			s.qos = qos
		}
	}
}

// WithTrigger controls whether ingested samples queue an analysis.
func WithTrigger(enabled bool) Option {
	return func(s *Subscriber) {
		s.trigger = enabled
	}
}

// WithTimeout bounds broker round trips.
func WithTimeout(d time.Duration) Option {
	return func(s *Subscriber) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the receive-time clock.
func WithClock(now func() time.Time) Option {
	return func(s *Subscriber) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Subscriber) {
		if l != nil {
			s.logger = l
		}
	}
}
