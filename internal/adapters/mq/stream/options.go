package stream

import (
	"time"

	"github.com/okian/tremor/pkg/logger"
)

// Option configures a Consumer.
type Option func(*Consumer)

// WithConsumerName sets the group member name.
func WithConsumerName(name string) Option {
	return func(c *Consumer) {
		if name != "" {
			c.name = name
		}
	}
}

// WithBatch sets how many messages one read may return.
func WithBatch(n int64) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.count = n
		}
	}
}

// WithBlock sets how long a read waits for new messages.
func WithBlock(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.block = d
		}
	}
}

// WithRetryPause sets the pause after a failed read.
func WithRetryPause(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}
