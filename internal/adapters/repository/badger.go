package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/okian/tremor/internal/domain/model"
	"github.com/okian/tremor/pkg/logger"
	"github.com/okian/tremor/pkg/metrics"
)

// Key prefixes.
const (
	resultKeyPrefix = "result:"
	deviceKeyPrefix = "result_device:"
	storeName       = "results"
	gcDiscardRatio  = 0.5
)

// BadgerStore implements Store on BadgerDB. Results expire through Badger's
// TTL at their retention expiry.
type BadgerStore struct {
	db         *badger.DB
	inMemory   bool
	now        func() time.Time
	logger     logger.Logger
	gcInterval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ Store = (*BadgerStore)(nil)

// Open opens or creates a result store in dir.
func Open(dir string, opts ...Option) (*BadgerStore, error) {
	s := &BadgerStore{
		now:        time.Now,
		gcInterval: 10 * time.Minute,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("results")
	}

	bopts := badger.DefaultOptions(dir).WithLogger(badgerLogger{s.logger})
	if s.inMemory {
		bopts = bopts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	s.db = db

	if s.gcInterval > 0 && !s.inMemory {
		s.wg.Add(1)
		go s.gcLoop()
	}
	return s, nil
}

// Upsert writes results in one transaction. Results whose retention expiry
// has already passed are skipped. An oversized batch is split and written
// in halves.
func (s *BadgerStore) Upsert(ctx context.Context, results []model.AnalysisResult) error {
	if len(results) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency(storeName, "upsert", float64(time.Since(start).Milliseconds()))
	}()

	err := s.db.Update(func(txn *badger.Txn) error {
		for i := range results {
			if err := s.set(txn, &results[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrTxnTooBig) && len(results) > 1 {
		mid := len(results) / 2
		if err := s.Upsert(ctx, results[:mid]); err != nil {
			return err
		}
		return s.Upsert(ctx, results[mid:])
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("upsert %d results: %w", len(results), err)
	}
	return nil
}

func (s *BadgerStore) set(txn *badger.Txn, r *model.AnalysisResult) error {
	var ttl time.Duration
	if r.RetentionExpiry > 0 {
		ttl = r.ExpiresAt().Sub(s.now())
		if ttl <= 0 {
			return nil
		}
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", r.Key(), err)
	}

	primary := resultKey(r.OwnerKey(), r.Timestamp)
	index := deviceKey(r.DeviceID, r.Timestamp, r.OwnerKey())

	pe := badger.NewEntry(primary, data)
	ie := badger.NewEntry(index, primary)
	if ttl > 0 {
		pe = pe.WithTTL(ttl)
		ie = ie.WithTTL(ttl)
	}
	if err := txn.SetEntry(pe); err != nil {
		return err
	}
	return txn.SetEntry(ie)
}

// Get returns one result.
func (s *BadgerStore) Get(_ context.Context, ownerKey string, ts int64) (model.AnalysisResult, error) {
	var r model.AnalysisResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(resultKey(ownerKey, ts))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get result: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	return r, err
}

// RangeByOwner scans the owner's keys between the padded bounds.
func (s *BadgerStore) RangeByOwner(ctx context.Context, ownerKey string, rng model.TimeRange) ([]model.AnalysisResult, error) {
	if rng.End < rng.Start {
		return nil, ErrInvalidRange
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency(storeName, "range_owner", float64(time.Since(start).Milliseconds()))
	}()

	var out []model.AnalysisResult
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(resultKeyPrefix + ownerKey + ":")
		it := txn.NewIterator(opts)
		defer it.Close()

		upper := resultKey(ownerKey, rng.End)
		for it.Seek(resultKey(ownerKey, rng.Start)); it.Valid(); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			item := it.Item()
			if bytes.Compare(item.Key(), upper) > 0 {
				break
			}
			var r model.AnalysisResult
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &r) }); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RangeByDevice walks the device index and loads each primary record.
func (s *BadgerStore) RangeByDevice(ctx context.Context, deviceID string, rng model.TimeRange) ([]model.AnalysisResult, error) {
	if rng.End < rng.Start {
		return nil, ErrInvalidRange
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency(storeName, "range_device", float64(time.Since(start).Milliseconds()))
	}()

	var out []model.AnalysisResult
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(deviceKeyPrefix + deviceID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()

		lower := []byte(deviceKeyPrefix + deviceID + ":" + padTS(rng.Start))
		upper := []byte(deviceKeyPrefix + deviceID + ":" + padTS(rng.End) + ";")
		for it.Seek(lower); it.Valid(); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			item := it.Item()
			if bytes.Compare(item.Key(), upper) > 0 {
				break
			}
			primary, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			ritem, err := txn.Get(primary)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var r model.AnalysisResult
			if err := ritem.Value(func(val []byte) error { return json.Unmarshal(val, &r) }); err != nil {
				return fmt.Errorf("decode %s: %w", primary, err)
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of live primary records.
func (s *BadgerStore) Count(_ context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(resultKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close stops background GC and closes the database.
func (s *BadgerStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return s.db.Close()
}

func (s *BadgerStore) gcLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(gcDiscardRatio) == nil {
			}
		}
	}
}

// padTS renders ts so that lexical order matches numeric order.
func padTS(ts int64) string {
	return fmt.Sprintf("%020d", ts)
}

func resultKey(ownerKey string, ts int64) []byte {
	return []byte(resultKeyPrefix + ownerKey + ":" + padTS(ts))
}

// deviceKey is result_device:<device>:<ts>:<owner>. Owners differ only when
// the device changed hands, so the ts component still orders the scan.
func deviceKey(deviceID string, ts int64, ownerKey string) []byte {
	return []byte(deviceKeyPrefix + deviceID + ":" + padTS(ts) + ":" + ownerKey)
}

// badgerLogger routes Badger's printf-style logging to the service logger.
type badgerLogger struct {
	l logger.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(context.Background(), strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(context.Background(), strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(context.Background(), strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(context.Background(), strings.TrimSpace(fmt.Sprintf(format, args...)))
}
