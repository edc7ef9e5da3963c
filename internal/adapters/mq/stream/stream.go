// Package stream carries new-data events over a Redis stream. Producers
// publish one event per ingested range; the consumer group turns each event
// into a pipeline trigger.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	service "github.com/okian/tremor/internal/app"
	"github.com/okian/tremor/internal/domain/model"
	"github.com/okian/tremor/pkg/logger"
	"github.com/okian/tremor/pkg/metrics"
)

const (
	fieldData   = "data"
	fieldSentAt = "sent_at"
	component   = "stream"

	// pendingID reads entries delivered to this consumer but not yet
	// acknowledged; newID reads entries never delivered to the group.
	pendingID = "0"
	newID     = ">"
	noBlock   = -1
)

// ErrMissingData is returned for a message without a data field.
var ErrMissingData = errors.New("stream message has no data field")

// TriggerFunc queues a pipeline invocation. It matches Service.Trigger.
type TriggerFunc func(ctx context.Context, req model.ProcessRequest) (bool, error)

// Publisher appends new-data events to a stream.
type Publisher struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// NewPublisher returns a Publisher writing to stream. A positive maxLen
// trims the stream approximately.
func NewPublisher(client redis.Cmdable, stream string, maxLen int64) *Publisher {
	return &Publisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish adds one event and returns its stream id.
func (p *Publisher) Publish(ctx context.Context, req model.ProcessRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			fieldData:   string(data),
			fieldSentAt: time.Now().UnixMilli(),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Result()
}

// Consumer reads events as one member of a consumer group.
type Consumer struct {
	client  *redis.Client
	stream  string
	group   string
	name    string
	count   int64
	block   time.Duration
	backoff time.Duration
	trigger TriggerFunc
	logger  logger.Logger
}

// NewConsumer creates a Consumer that hands every event to trigger.
func NewConsumer(client *redis.Client, stream, group string, trigger TriggerFunc, opts ...Option) *Consumer {
	c := &Consumer{
		client:  client,
		stream:  stream,
		group:   group,
		name:    "tremor-consumer",
		count:   32,
		block:   2 * time.Second,
		backoff: time.Second,
		trigger: trigger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("stream")
	}
	return c
}

// EnsureGroup creates the consumer group and the stream when missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// Serve consumes until ctx is done. Read errors are logged and retried
// after a pause.
func (c *Consumer) Serve(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	c.logger.Info(ctx, "stream consumer started",
		logger.String("stream", c.stream),
		logger.String("group", c.group),
		logger.String("consumer", c.name),
	)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.RecordErrorByComponent(component, "read")
			c.logger.Warn(ctx, "stream read failed", logger.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
		}
	}
}

// Poll first retries this consumer's own pending entries, then performs one
// blocking read for new ones. It reports how many messages were
// acknowledged. Entries whose trigger failed stay pending and are retried on
// the next Poll.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	acked, err := c.read(ctx, pendingID, noBlock)
	if err != nil {
		return acked, err
	}
	n, err := c.read(ctx, newID, c.block)
	return acked + n, err
}

// read performs one group read from id. A negative block omits BLOCK.
func (c *Consumer) read(ctx context.Context, id string, block time.Duration) (int, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, id},
		Count:    c.count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, s := range streams {
		for _, msg := range s.Messages {
			if !c.handle(ctx, msg) {
				continue
			}
			if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
				return acked, fmt.Errorf("ack %s: %w", msg.ID, err)
			}
			acked++
		}
	}
	return acked, nil
}

// handle reports whether msg should be acknowledged. Undecodable messages
// and requests the service rejects as invalid are acknowledged so they do
// not block the group; a trigger that could not be queued stays pending for
// redelivery.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) bool {
	req, err := Decode(msg)
	if err != nil {
		metrics.RecordErrorByComponent(component, "decode")
		c.logger.Warn(ctx, "dropping undecodable stream message",
			logger.String("id", msg.ID),
			logger.Error(err),
		)
		return true
	}
	if req.Source == "" {
		req.Source = component
	}
	if _, err := c.trigger(ctx, req); err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			metrics.RecordErrorByComponent(component, "invalid")
			c.logger.Warn(ctx, "dropping invalid stream request",
				logger.String("id", msg.ID),
				logger.String("device_id", req.DeviceID),
				logger.Error(err),
			)
			return true
		}
		metrics.RecordErrorByComponent(component, "trigger")
		c.logger.Warn(ctx, "stream event not queued",
			logger.String("id", msg.ID),
			logger.String("device_id", req.DeviceID),
			logger.Error(err),
		)
		return false
	}
	return true
}

// Decode extracts the request carried by msg.
func Decode(msg redis.XMessage) (model.ProcessRequest, error) {
	var req model.ProcessRequest
	raw, ok := msg.Values[fieldData]
	if !ok {
		return req, ErrMissingData
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return req, fmt.Errorf("data field has type %T", raw)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("decode event: %w", err)
	}
	if req.DeviceID == "" || !req.Range.Valid() {
		return req, fmt.Errorf("event for device %q has invalid range %d..%d", req.DeviceID, req.Range.Start, req.Range.End)
	}
	return req, nil
}
