// Package mqttingest subscribes to device sample topics and feeds the
// payloads into the raw sample store.
package mqttingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/okian/tremor/internal/domain/model"
	"github.com/okian/tremor/pkg/logger"
	"github.com/okian/tremor/pkg/metrics"
)

const (
	transport       = "mqtt"
	disconnectQuiet = 250 // ms
)

// ErrNoDevice is returned when a topic does not name a device.
var ErrNoDevice = errors.New("topic does not name a device")

// IngestFunc stores samples and optionally triggers analysis. It matches
// Service.Ingest.
type IngestFunc func(ctx context.Context, transport string, samples []model.RawSample, trigger bool) (int, error)

// Subscriber consumes sample messages from a broker.
type Subscriber struct {
	client  mqtt.Client
	topic   string
	qos     byte
	trigger bool
	ingest  IngestFunc
	timeout time.Duration
	now     func() time.Time
	logger  logger.Logger
}

// NewClient builds a paho client for broker with auto-reconnect.
func NewClient(broker, clientID string) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectRetry(true)
	return mqtt.NewClient(opts)
}

// New creates a Subscriber for topic. The topic filter must contain exactly
// one single-level wildcard; the level it matches is the device id, as in
// "tremor/+/samples".
func New(client mqtt.Client, topic string, ingest IngestFunc, opts ...Option) *Subscriber {
	s := &Subscriber{
		client:  client,
		topic:   topic,
		qos:     1,
		trigger: true,
		ingest:  ingest,
		timeout: 10 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("mqtt")
	}
	return s
}

// Serve connects, subscribes and blocks until ctx is done.
func (s *Subscriber) Serve(ctx context.Context) error {
	if tok := s.client.Connect(); !tok.WaitTimeout(s.timeout) || tok.Error() != nil {
		return fmt.Errorf("connect to broker: %w", tokenErr(tok))
	}
	defer s.client.Disconnect(disconnectQuiet)

	tok := s.client.Subscribe(s.topic, s.qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := s.Handle(ctx, msg.Topic(), msg.Payload()); err != nil {
			metrics.RecordErrorByComponent(transport, "handle")
			s.logger.Warn(ctx, "mqtt message dropped",
				logger.String("topic", msg.Topic()),
				logger.Error(err),
			)
		}
	})
	if !tok.WaitTimeout(s.timeout) || tok.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", s.topic, tokenErr(tok))
	}
	s.logger.Info(ctx, "mqtt subscriber started", logger.String("topic", s.topic))

	<-ctx.Done()
	if tok := s.client.Unsubscribe(s.topic); tok.WaitTimeout(s.timeout) && tok.Error() != nil {
		s.logger.Warn(ctx, "mqtt unsubscribe failed", logger.Error(tok.Error()))
	}
	return ctx.Err()
}

// Handle decodes one message and ingests its well-formed samples.
// Records without a timestamp are stamped with the receive time.
func (s *Subscriber) Handle(ctx context.Context, topic string, payload []byte) error {
	deviceID, err := DeviceFromTopic(s.topic, topic)
	if err != nil {
		return err
	}
	samples, err := model.DecodeRawSamples(deviceID, payload)
	if err != nil {
		return err
	}

	received := s.now().UnixMilli()
	kept := samples[:0]
	for _, rs := range samples {
		if m, ok := rs.Payload.(model.Malformed); ok {
			metrics.RecordSampleRejected(m.Reason)
			s.logger.Debug(ctx, "malformed mqtt sample",
				logger.String("device_id", deviceID),
				logger.String("reason", m.Reason),
			)
			continue
		}
		if rs.DeviceID != deviceID {
			rs.DeviceID = deviceID
		}
		if rs.Timestamp == 0 {
			rs.Timestamp = received
		}
		kept = append(kept, rs)
	}
	if len(kept) == 0 {
		return nil
	}
	_, err = s.ingest(ctx, transport, kept, s.trigger)
	return err
}

// DeviceFromTopic returns the level of topic matched by the single '+' of
// filter.
func DeviceFromTopic(filter, topic string) (string, error) {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	if len(fl) != len(tl) {
		return "", fmt.Errorf("%w: %q does not match %q", ErrNoDevice, topic, filter)
	}
	device := ""
	for i := range fl {
		switch fl[i] {
		case "+":
			device = tl[i]
		case tl[i]:
		default:
			return "", fmt.Errorf("%w: %q does not match %q", ErrNoDevice, topic, filter)
		}
	}
	if device == "" {
		return "", fmt.Errorf("%w: %q", ErrNoDevice, topic)
	}
	return device, nil
}

func tokenErr(tok mqtt.Token) error {
	if err := tok.Error(); err != nil {
		return err
	}
	return errors.New("timed out")
}
