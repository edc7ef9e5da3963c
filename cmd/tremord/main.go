package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/okian/tremor/internal/adapters/http/api"
	"github.com/okian/tremor/internal/adapters/http/swagger"
	"github.com/okian/tremor/internal/adapters/mq/mqttingest"
	"github.com/okian/tremor/internal/adapters/mq/stream"
	service "github.com/okian/tremor/internal/app"
	"github.com/okian/tremor/internal/config"
	"github.com/okian/tremor/internal/domain/model"
	"github.com/okian/tremor/internal/supervisor"
	"github.com/okian/tremor/pkg/logger"
	"github.com/okian/tremor/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 60 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
	streamMaxLen           = 100000
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.InitWithFormat(cfg.LogFormat); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Get().Error(ctx, "tremord stopped with error", logger.Error(err))
		os.Exit(1)
	}
	logger.Get().Info(ctx, "tremord stopped")
}

// run wires the service, its transports and the HTTP API under one
// supervision tree and blocks until ctx ends.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()
	svc := service.New(cfg, service.WithLogger(log))

	tree := supervisor.NewTree(logger.Slog(), supervisor.DefaultTreeConfig())
	tree.AddIngest(supervisor.NewLifecycleService("pipeline", svc))
	tree.AddIngest(supervisor.Func{Name: "service-metrics", Run: func(ctx context.Context) error {
		reportServiceMetrics(ctx, svc, serviceMetricsInterval)
		return ctx.Err()
	}})

	var rdb *redis.Client
	if cfg.RedisEnabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()

		var opts []stream.Option
		if host, err := os.Hostname(); err == nil {
			opts = append(opts, stream.WithConsumerName(host))
		}
		consumer := stream.NewConsumer(rdb, cfg.RedisStream, cfg.RedisGroup, svc.Trigger, opts...)
		tree.AddIngest(supervisor.Func{Name: "stream-consumer", Run: consumer.Serve})
	}

	if cfg.MQTTEnabled {
		ingest := mqttingest.IngestFunc(svc.Ingest)
		if rdb != nil {
			// Triggers go through the stream so any replica can run them.
			ingest = publishingIngest(svc, stream.NewPublisher(rdb, cfg.RedisStream, streamMaxLen))
		}
		sub := mqttingest.New(mqttingest.NewClient(cfg.MQTTBroker, cfg.MQTTClientID), cfg.MQTTTopic, ingest)
		tree.AddIngest(supervisor.Func{Name: "mqtt-subscriber", Run: sub.Serve})
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc, cfg),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	tree.AddAPI(supervisor.NewHTTPService(srv, shutdownTimeout))

	log.Info(ctx, "starting tremord",
		logger.String("addr", cfg.Addr),
		logger.Bool("redis", cfg.RedisEnabled),
		logger.Bool("mqtt", cfg.MQTTEnabled),
	)
	return tree.Serve(ctx)
}

// newMux registers the business API and the API docs.
func newMux(ctx context.Context, svc *service.Service, cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc, api.WithProcessLimit(cfg.ProcessRPS, cfg.ProcessBurst)).Register(ctx, mux)
	return mux
}

// triggerPublisher publishes trigger events.
type triggerPublisher interface {
	Publish(ctx context.Context, req model.ProcessRequest) (string, error)
}

// ingester stores samples and derives the trigger requests they imply.
type ingester interface {
	Ingest(ctx context.Context, transport string, samples []model.RawSample, trigger bool) (int, error)
	TriggerRequests(samples []model.RawSample, source string) []model.ProcessRequest
}

// publishingIngest stores samples without queuing locally and publishes one
// trigger per device instead. A publish failure is logged; the samples are
// already stored and the scheduled sweep picks them up.
func publishingIngest(svc ingester, pub triggerPublisher) mqttingest.IngestFunc {
	return func(ctx context.Context, transport string, samples []model.RawSample, trigger bool) (int, error) {
		n, err := svc.Ingest(ctx, transport, samples, false)
		if err != nil || !trigger {
			return n, err
		}
		for _, req := range svc.TriggerRequests(samples, "stream") {
			if _, err := pub.Publish(ctx, req); err != nil {
				metrics.RecordErrorByComponent("stream", "publish")
				logger.Get().Warn(ctx, "could not publish trigger",
					logger.String("device_id", req.DeviceID),
					logger.Error(err),
				)
			}
		}
		return n, nil
	}
}

// reportServiceMetrics refreshes queue gauges until ctx ends.
func reportServiceMetrics(ctx context.Context, svc *service.Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := svc.GetStats()
			if queueLen, ok := stats["queueLength"].(int); ok {
				metrics.UpdateQueueSize(queueLen)
			}
			if capacity, ok := stats["queueSize"].(int); ok {
				metrics.UpdateQueueCapacity(capacity)
			}
		}
	}
}
