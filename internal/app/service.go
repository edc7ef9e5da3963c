// Package service wires the stores, the pipeline and the trigger queue into
// the service the transports talk to.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	eventqueue "github.com/okian/tremor/internal/adapters/mq/queue"
	workerpool "github.com/okian/tremor/internal/adapters/mq/worker"
	repository "github.com/okian/tremor/internal/adapters/repository"
	"github.com/okian/tremor/internal/adapters/sqlstore"
	"github.com/okian/tremor/internal/config"
	"github.com/okian/tremor/internal/domain/dedupe"
	"github.com/okian/tremor/internal/domain/model"
	"github.com/okian/tremor/internal/domain/ownership"
	"github.com/okian/tremor/pkg/logger"
	"github.com/okian/tremor/pkg/metrics"
)

// SampleStore is the raw sample store the service reads and appends to.
type SampleStore interface {
	SampleSource
	Append(ctx context.Context, samples []model.RawSample) error
	Devices(ctx context.Context, since int64) ([]string, error)
}

// ResultQuery selects stored results. Exactly one of PatientID and DeviceID
// is set.
type ResultQuery struct {
	PatientID string
	DeviceID  string
	Range     model.TimeRange
}

// Service implements the dependencies of the HTTP API and the ingest
// transports.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Stores. Injected ones are not closed on Stop.
	samples     SampleStore
	assignments ownership.Source
	results     repository.Store
	sqlDB       *sqlstore.DB
	ownsResults bool
	ownsSamples bool
	ownsAssign  bool

	resolver *ownership.Resolver
	pipeline *Pipeline
	deduper  dedupe.Deduper
	queue    *eventqueue.InMemoryQueue
	pool     *workerpool.Pool

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now    func() time.Time
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithSampleStore injects the raw sample store.
func WithSampleStore(s SampleStore) Option {
	return func(svc *Service) {
		svc.samples = s
	}
}

// WithAssignmentSource injects the ownership store.
func WithAssignmentSource(s ownership.Source) Option {
	return func(svc *Service) {
		svc.assignments = s
	}
}

// WithResultStore injects the result store.
func WithResultStore(s repository.Store) Option {
	return func(svc *Service) {
		svc.results = s
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(svc *Service) {
		if l != nil {
			svc.logger = l
		}
	}
}

// WithServiceClock overrides the clock used by the schedule loop.
func WithServiceClock(now func() time.Time) Option {
	return func(svc *Service) {
		if now != nil {
			svc.now = now
		}
	}
}

// New constructs a Service. A nil cfg uses config.New defaults.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens any stores that were not injected, then starts the workers
// and, when enabled, the periodic schedule.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting tremor service...")

	if err := s.openStores(ctx); err != nil {
		return err
	}
	s.stopCh = make(chan struct{})

	s.resolver = ownership.NewResolver(s.assignments,
		ownership.WithBreaker(s.cfg.BreakerFailures, s.cfg.BreakerTimeout),
	)
	s.pipeline = NewPipelineFromConfig(s.cfg, s.samples, s.results, s.resolver)
	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.cfg.DedupeSize),
		dedupe.WithTTL(2*s.cfg.Budget),
	)
	s.queue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.cfg.QueueSize),
		eventqueue.WithBufferSize(s.cfg.QueueSize),
	)
	s.pool = workerpool.NewPool(s.cfg.WorkerCount, s.queue, s.pipeline,
		workerpool.WithOnDone(s.onDone),
	)
	s.pool.Start(ctx)

	if s.cfg.ScheduleEnabled {
		s.wg.Add(1)
		go s.scheduleLoop(ctx)
	}

	s.started = true
	s.logger.Info(ctx, "tremor service started",
		logger.Int("workers", s.cfg.WorkerCount),
		logger.Int("queueSize", s.cfg.QueueSize),
		logger.Int("dedupeSize", s.cfg.DedupeSize),
		logger.Bool("schedule", s.cfg.ScheduleEnabled),
	)
	return nil
}

func (s *Service) openStores(ctx context.Context) error {
	if s.samples == nil || s.assignments == nil {
		db, err := sqlstore.Open(ctx, s.cfg.SamplesDriver, s.cfg.SamplesDSN)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSampleStore, err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("%w: %w", ErrSampleStore, err)
		}
		s.sqlDB = db
		if s.samples == nil {
			s.samples = sqlstore.NewSampleStore(db)
			s.ownsSamples = true
		}
		if s.assignments == nil {
			s.assignments = sqlstore.NewAssignmentStore(db)
			s.ownsAssign = true
		}
	}
	if s.results == nil {
		var opts []repository.Option
		if s.cfg.ResultsDir == "" {
			opts = append(opts, repository.WithInMemory())
		}
		store, err := repository.Open(s.cfg.ResultsDir, opts...)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrResultStore, err)
		}
		s.results = store
		s.ownsResults = true
	}
	return nil
}

// Stop drains the workers and closes owned stores.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping tremor service...")

	close(s.stopCh)
	s.wg.Wait()

	if s.pool != nil {
		_ = s.pool.Shutdown(ctx)
	}
	if s.ownsResults && s.results != nil {
		if err := s.results.Close(); err != nil {
			s.logger.Error(ctx, "error closing result store", logger.Error(err))
		}
		s.results, s.ownsResults = nil, false
	}
	if s.sqlDB != nil {
		if err := s.sqlDB.Close(); err != nil {
			s.logger.Error(ctx, "error closing sample database", logger.Error(err))
		}
		s.sqlDB = nil
		if s.ownsSamples {
			s.samples, s.ownsSamples = nil, false
		}
		if s.ownsAssign {
			s.assignments, s.ownsAssign = nil, false
		}
	}

	s.started = false
	s.logger.Info(ctx, "tremor service stopped")
}

// onDone releases the trigger claim once a worker finished it.
func (s *Service) onDone(ctx context.Context, req model.ProcessRequest, _ model.ProcessingSummary, _ error) {
	s.deduper.Release(ctx, req.ID())
}

// Trigger queues an asynchronous invocation. It returns false without error
// when an identical trigger is already pending.
func (s *Service) Trigger(ctx context.Context, req model.ProcessRequest) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return false, ErrNotStarted
	}
	if req.DeviceID == "" || !req.Range.Valid() {
		return false, ErrInvalidRequest
	}

	id := req.ID()
	if !s.deduper.Acquire(ctx, id) {
		s.logger.Debug(ctx, "trigger already pending, coalescing", logger.String("request_id", id))
		return false, nil
	}
	if !s.queue.Enqueue(ctx, req) {
		s.deduper.Release(ctx, id)
		return false, ErrQueueFull
	}
	return true, nil
}

// Process runs an invocation synchronously.
func (s *Service) Process(ctx context.Context, req model.ProcessRequest) (model.ProcessingSummary, error) {
	s.mu.RLock()
	p := s.pipeline
	started := s.started
	s.mu.RUnlock()
	if !started {
		return model.ProcessingSummary{}, ErrNotStarted
	}
	return p.Process(ctx, req)
}

// Ingest appends raw samples and, when trigger is set, queues one
// invocation per device covering the new data plus one window of context.
func (s *Service) Ingest(ctx context.Context, transport string, samples []model.RawSample, trigger bool) (int, error) {
	s.mu.RLock()
	store, started := s.samples, s.started
	s.mu.RUnlock()
	if !started {
		return 0, ErrNotStarted
	}
	if len(samples) == 0 {
		return 0, nil
	}
	if err := store.Append(ctx, samples); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSampleStore, err)
	}
	metrics.RecordIngestedSamples(transport, len(samples))

	if trigger {
		for _, req := range s.TriggerRequests(samples, transport) {
			if _, err := s.Trigger(ctx, req); err != nil {
				s.logger.Warn(ctx, "could not queue trigger after ingest",
					logger.String("device_id", req.DeviceID),
					logger.Error(err),
				)
			}
		}
	}
	return len(samples), nil
}

// TriggerRequests builds one request per device spanning the given samples
// plus one window of leading context.
func (s *Service) TriggerRequests(samples []model.RawSample, source string) []model.ProcessRequest {
	spans := make(map[string]*model.TimeRange)
	order := make([]string, 0, 1)
	for _, rs := range samples {
		if rs.DeviceID == "" || rs.Timestamp <= 0 {
			continue
		}
		r, ok := spans[rs.DeviceID]
		if !ok {
			spans[rs.DeviceID] = &model.TimeRange{Start: rs.Timestamp, End: rs.Timestamp}
			order = append(order, rs.DeviceID)
			continue
		}
		r.Start = min(r.Start, rs.Timestamp)
		r.End = max(r.End, rs.Timestamp)
	}

	lead := s.cfg.Window.Milliseconds()
	out := make([]model.ProcessRequest, 0, len(order))
	for _, id := range order {
		r := spans[id]
		out = append(out, model.ProcessRequest{
			DeviceID: id,
			Range:    model.TimeRange{Start: max(1, r.Start-lead), End: r.End},
			Source:   source,
		})
	}
	return out
}

// Results returns stored results for a patient or device.
func (s *Service) Results(ctx context.Context, q ResultQuery) ([]model.AnalysisResult, error) {
	s.mu.RLock()
	store, started := s.results, s.started
	s.mu.RUnlock()
	if !started {
		return nil, ErrNotStarted
	}
	if q.PatientID != "" {
		return store.RangeByOwner(ctx, model.OwnerKey(q.PatientID, q.DeviceID), q.Range)
	}
	return store.RangeByDevice(ctx, q.DeviceID, q.Range)
}

// Backfill processes a range for many devices, or for every device with
// data in the range when deviceIDs is empty.
func (s *Service) Backfill(ctx context.Context, deviceIDs []string, r model.TimeRange, hintHz float64) (BackfillReport, error) {
	s.mu.RLock()
	p, store, started := s.pipeline, s.samples, s.started
	s.mu.RUnlock()
	if !started {
		return BackfillReport{}, ErrNotStarted
	}
	if len(deviceIDs) == 0 {
		ids, err := store.Devices(ctx, r.Start)
		if err != nil {
			return BackfillReport{}, fmt.Errorf("%w: %w", ErrSampleStore, err)
		}
		deviceIDs = ids
	}
	return p.Backfill(ctx, deviceIDs, r, hintHz)
}

// Ready reports whether the service is started and its database answers.
func (s *Service) Ready(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	if s.sqlDB != nil {
		if err := s.sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrSampleStore, err)
		}
	}
	return nil
}

// scheduleLoop queues a lookback invocation for every active device on
// each tick.
func (s *Service) scheduleLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ScheduleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	now := s.now()
	r := model.TimeRange{
		Start: now.Add(-s.cfg.ScheduleLookback).UnixMilli(),
		End:   now.UnixMilli(),
	}
	devices, err := s.samples.Devices(ctx, r.Start)
	if err != nil {
		s.logger.Error(ctx, "scheduled tick could not list devices", logger.Error(err))
		return
	}
	queued := 0
	for _, id := range devices {
		ok, err := s.triggerLocked(ctx, model.ProcessRequest{DeviceID: id, Range: r, Source: "schedule"})
		if err != nil {
			s.logger.Warn(ctx, "scheduled trigger dropped", logger.String("device_id", id), logger.Error(err))
			continue
		}
		if ok {
			queued++
		}
	}
	s.logger.Debug(ctx, "scheduled tick", logger.Int("devices", len(devices)), logger.Int("queued", queued))
}

// triggerLocked is Trigger for callers that must not take s.mu; the
// schedule loop runs while Stop holds it.
func (s *Service) triggerLocked(ctx context.Context, req model.ProcessRequest) (bool, error) {
	id := req.ID()
	if !s.deduper.Acquire(ctx, id) {
		return false, nil
	}
	if !s.queue.Enqueue(ctx, req) {
		s.deduper.Release(ctx, id)
		return false, ErrQueueFull
	}
	return true, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.cfg.WorkerCount,
		"queueSize":   s.cfg.QueueSize,
		"dedupeSize":  s.cfg.DedupeSize,
	}

	if s.started {
		stats["queueLength"] = s.queue.Len(ctx)
		stats["pendingTriggers"] = s.deduper.Pending()
		stats["processed"] = s.pool.Processed()
		stats["ownershipBreaker"] = s.resolver.State()
		if n, err := s.results.Count(ctx); err == nil {
			stats["storedResults"] = n
		}
	}
	return stats
}

// Pending returns the number of pending triggers.
func (s *Service) Pending() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Pending()
}
