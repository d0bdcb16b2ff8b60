package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/jonwraymond/marketcache/kv"
	"github.com/jonwraymond/marketcache/observe"
)

// Options configures a Service.
type Options struct {
	Namespace string
	Policy    Policy
	Clock     clockwork.Clock
	Logger    observe.Logger
	Metrics   observe.Metrics
}

// DefaultOptions returns options with the "cache" namespace, DefaultPolicy,
// the real clock and no-op telemetry.
func DefaultOptions() Options {
	return Options{
		Namespace: "cache",
		Policy:    DefaultPolicy(),
		Clock:     clockwork.NewRealClock(),
		Logger:    observe.NopLogger(),
		Metrics:   observe.NopMetrics(),
	}
}

// Stats summarizes the entries under a namespace.
type Stats struct {
	Total      int              `json:"total"`
	Expired    int              `json:"expired"`
	Corrupt    int              `json:"corrupt"`
	Bytes      int              `json:"bytes"`
	ByCategory map[Category]int `json:"by_category"`
}

const lockStripes = 32

// Service provides typed TTL caching over a kv.Store.
//
// Contract:
// - Concurrency: safe for concurrent use. Writes to the same key are
// serialized; writes to independent keys never interfere.
// - Reads never fail: storage errors and corrupt entries degrade to a miss.
// - Writes return ErrStorageFailure-wrapped errors; callers may treat them
// as warnings.
type Service struct {
	store   kv.Store
	keys    Keyer
	policy  Policy
	clock   clockwork.Clock
	logger  observe.Logger
	metrics observe.Metrics

	locks [lockStripes]sync.Mutex

	// gen is the last write sequence handed out. Sequences are unique
	// across keys, so a removed and rewritten key never repeats one.
	gen atomic.Uint64
	// removedAt is the sequence an absent key reports. Every removal
	// advances it.
	removedAt atomic.Uint64
}

// NewService creates a Service over store. Zero-valued options fall back to
// DefaultOptions.
func NewService(store kv.Store, opts Options) (*Service, error) {
	def := DefaultOptions()
	if opts.Namespace == "" {
		opts.Namespace = def.Namespace
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = def.Policy
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	if opts.Logger == nil {
		opts.Logger = def.Logger
	}
	if opts.Metrics == nil {
		opts.Metrics = def.Metrics
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	keys, err := NewKeyer(opts.Namespace)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:   store,
		keys:    keys,
		policy:  opts.Policy,
		clock:   opts.Clock,
		logger:  opts.Logger.WithComponent("cache"),
		metrics: opts.Metrics,
	}, nil
}

// Keys returns the Keyer used by the service.
func (s *Service) Keys() Keyer { return s.keys }

// Policy returns the TTL policy.
func (s *Service) Policy() Policy { return s.policy }

// CacheEntity stores payload under entity:{id}.
func (s *Service) CacheEntity(ctx context.Context, id string, payload any) error {
	key, err := s.keys.EntityKey(id)
	if err != nil {
		return err
	}
	return s.write(ctx, key, CategoryEntity, payload, nil)
}

// CacheEntityIfSeq stores payload under entity:{id} only if the key's write
// sequence still equals observed. It returns ErrStaleWrite otherwise.
func (s *Service) CacheEntityIfSeq(ctx context.Context, id string, payload any, observed uint64) error {
	key, err := s.keys.EntityKey(id)
	if err != nil {
		return err
	}
	return s.write(ctx, key, CategoryEntity, payload, &observed)
}

// EntitySeq returns the current write sequence of entity:{id}. An absent
// key reports the sequence of the latest removal in the namespace.
func (s *Service) EntitySeq(ctx context.Context, id string) (uint64, error) {
	key, err := s.keys.EntityKey(id)
	if err != nil {
		return 0, err
	}
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	return s.currentSeq(ctx, key), nil
}

// GetEntity returns the live payload under entity:{id}.
func (s *Service) GetEntity(ctx context.Context, id string) (json.RawMessage, bool) {
	key, err := s.keys.EntityKey(id)
	if err != nil {
		return nil, false
	}
	return s.get(ctx, key, CategoryEntity)
}

// LookupEntity is GetEntity without degradation: storage and decode
// failures are returned rather than reported as a miss.
func (s *Service) LookupEntity(ctx context.Context, id string) (json.RawMessage, bool, error) {
	key, err := s.keys.EntityKey(id)
	if err != nil {
		return nil, false, err
	}
	return s.lookup(ctx, key, CategoryEntity)
}

// InvalidateEntity removes entity:{id}. Missing keys are not an error.
func (s *Service) InvalidateEntity(ctx context.Context, id string) error {
	key, err := s.keys.EntityKey(id)
	if err != nil {
		return err
	}
	if err := s.remove(ctx, key); err != nil {
		return err
	}
	s.metrics.RecordEviction(ctx, string(CategoryEntity), 1)
	return nil
}

// CacheList stores one page of a filtered list under list:{signature}:{page}.
// Pages are independent keys, so caching one page never evicts another.
func (s *Service) CacheList(ctx context.Context, signature string, page int, items any) error {
	key, err := s.keys.ListKey(signature, page)
	if err != nil {
		return err
	}
	return s.write(ctx, key, CategoryList, items, nil)
}

// GetList returns the live page under list:{signature}:{page}.
func (s *Service) GetList(ctx context.Context, signature string, page int) (json.RawMessage, bool) {
	key, err := s.keys.ListKey(signature, page)
	if err != nil {
		return nil, false
	}
	return s.get(ctx, key, CategoryList)
}

// CacheFilterState stores named client state under filter:{name}.
func (s *Service) CacheFilterState(ctx context.Context, name string, state any) error {
	key, err := s.keys.FilterStateKey(name)
	if err != nil {
		return err
	}
	return s.write(ctx, key, CategoryFilter, state, nil)
}

// GetFilterState returns the live state under filter:{name}.
func (s *Service) GetFilterState(ctx context.Context, name string) (json.RawMessage, bool) {
	key, err := s.keys.FilterStateKey(name)
	if err != nil {
		return nil, false
	}
	return s.get(ctx, key, CategoryFilter)
}

// ClearByFilter removes every cached page of one filter signature and
// leaves other signatures untouched.
func (s *Service) ClearByFilter(ctx context.Context, signature string) error {
	prefix, err := s.keys.ListPrefix(signature)
	if err != nil {
		return err
	}
	keys, err := s.store.Keys(ctx, prefix)
	if err != nil {
		return s.writeFailed(ctx, "clear by filter", prefix, err)
	}
	var errs []error
	removed := 0
	for _, key := range keys {
		if err := s.remove(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	s.metrics.RecordEviction(ctx, string(CategoryList), removed)
	return errors.Join(errs...)
}

// ClearExpired removes every expired or corrupt entry in the namespace,
// regardless of category, and returns how many were removed. It is safe to
// run concurrently with reads and writes: an entry rewritten since it was
// inspected is kept.
func (s *Service) ClearExpired(ctx context.Context) (int, error) {
	keys, err := s.store.Keys(ctx, s.keys.Prefix())
	if err != nil {
		return 0, s.writeFailed(ctx, "clear expired", s.keys.Prefix(), err)
	}
	now := s.clock.Now()
	removed := map[Category]int{}
	total := 0
	var errs []error
	for _, key := range keys {
		ok, err := s.removeIf(ctx, key, func(e Entry, decodeErr error) bool {
			return decodeErr != nil || e.Expired(now)
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			cat, _ := s.keys.CategoryOf(key)
			removed[cat]++
			total++
		}
	}
	for cat, n := range removed {
		s.metrics.RecordEviction(ctx, string(cat), n)
	}
	if total > 0 {
		s.logger.Debug(ctx, "expired entries swept", observe.Field{Key: "removed", Value: total})
	}
	return total, errors.Join(errs...)
}

// ClearAll removes every key in the namespace. It holds every key lock, so
// no write interleaves with the wipe, and guarded writes that observed a
// sequence before the wipe are rejected afterwards, including those that
// observed an absent key.
func (s *Service) ClearAll(ctx context.Context) error {
	for i := range s.locks {
		s.locks[i].Lock()
	}
	defer func() {
		for i := range s.locks {
			s.locks[i].Unlock()
		}
	}()

	defer s.markRemoval()

	keys, err := s.store.Keys(ctx, s.keys.Prefix())
	if err != nil {
		return s.writeFailed(ctx, "clear all", s.keys.Prefix(), err)
	}
	var errs []error
	for _, key := range keys {
		if err := s.removeLocked(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	removed := len(keys) - len(errs)
	s.metrics.RecordEviction(ctx, "all", removed)
	s.logger.Info(ctx, "cache cleared", observe.Field{Key: "removed", Value: removed})
	return errors.Join(errs...)
}

// Stats counts entries without modifying anything; expired entries are
// counted, not removed.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByCategory: map[Category]int{}}
	keys, err := s.store.Keys(ctx, s.keys.Prefix())
	if err != nil {
		return st, fmt.Errorf("%w: stats: %w", ErrStorageFailure, err)
	}
	now := s.clock.Now()
	for _, key := range keys {
		raw, ok, err := s.store.Get(ctx, key)
		if err != nil {
			return st, fmt.Errorf("%w: stats: %w", ErrStorageFailure, err)
		}
		if !ok {
			continue
		}
		st.Total++
		st.Bytes += len(key) + len(raw)
		if cat, ok := s.keys.CategoryOf(key); ok {
			st.ByCategory[cat]++
		}
		e, err := DecodeEntry(raw)
		switch {
		case err != nil:
			st.Corrupt++
		case e.Expired(now):
			st.Expired++
		}
	}
	return st, nil
}

func (s *Service) get(ctx context.Context, key string, cat Category) (json.RawMessage, bool) {
	payload, ok, err := s.lookup(ctx, key, cat)
	if err != nil {
		s.logger.Warn(ctx, "cache read degraded to miss",
			observe.Field{Key: "key", Value: key},
			observe.Err(err),
		)
		return nil, false
	}
	return payload, ok
}

func (s *Service) lookup(ctx context.Context, key string, cat Category) (json.RawMessage, bool, error) {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.metrics.RecordLookup(ctx, string(cat), false)
		return nil, false, fmt.Errorf("%w: read %q: %w", ErrStorageFailure, key, err)
	}
	if !ok {
		s.metrics.RecordLookup(ctx, string(cat), false)
		return nil, false, nil
	}
	e, err := DecodeEntry(raw)
	if err != nil {
		s.metrics.RecordLookup(ctx, string(cat), false)
		return nil, false, fmt.Errorf("read %q: %w", key, err)
	}
	if e.Expired(s.clock.Now()) {
		s.metrics.RecordLookup(ctx, string(cat), false)
		s.evictIfExpired(ctx, key, cat)
		return nil, false, nil
	}
	s.metrics.RecordLookup(ctx, string(cat), true)
	return e.Payload, true, nil
}

// evictIfExpired removes key when it is still expired under the key lock.
func (s *Service) evictIfExpired(ctx context.Context, key string, cat Category) {
	now := s.clock.Now()
	removed, err := s.removeIf(ctx, key, func(e Entry, decodeErr error) bool {
		return decodeErr == nil && e.Expired(now)
	})
	if err != nil {
		s.logger.Warn(ctx, "failed to evict expired entry", observe.Field{Key: "key", Value: key}, observe.Err(err))
		return
	}
	if removed {
		s.metrics.RecordEviction(ctx, string(cat), 1)
	}
}

func (s *Service) write(ctx context.Context, key string, cat Category, payload any, guard *uint64) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache: encode payload for %q: %w", key, err)
	}

	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	if guard != nil {
		if cur := s.currentSeq(ctx, key); *guard != cur {
			s.logger.Debug(ctx, "stale write rejected",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "observed_seq", Value: *guard},
				observe.Field{Key: "current_seq", Value: cur},
			)
			return ErrStaleWrite
		}
	}

	raw, err := EncodeEntry(Entry{
		Payload:   data,
		WrittenAt: s.clock.Now(),
		TTL:       s.policy.TTL(cat),
		Seq:       s.gen.Add(1),
	})
	if err != nil {
		return fmt.Errorf("cache: encode entry for %q: %w", key, err)
	}
	err = s.store.Set(ctx, key, raw)
	s.metrics.RecordWrite(ctx, string(cat), err)
	if err != nil {
		return s.writeFailed(ctx, "write", key, err)
	}
	return nil
}

func (s *Service) remove(ctx context.Context, key string) error {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	return s.removeLocked(ctx, key)
}

// removeIf removes key when pred holds for its current stored value.
func (s *Service) removeIf(ctx context.Context, key string, pred func(Entry, error) bool) (bool, error) {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: read %q: %w", ErrStorageFailure, key, err)
	}
	if !ok {
		return false, nil
	}
	e, decodeErr := DecodeEntry(raw)
	if !pred(e, decodeErr) {
		return false, nil
	}
	if err := s.removeLocked(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) removeLocked(ctx context.Context, key string) error {
	if err := s.store.Remove(ctx, key); err != nil {
		return s.writeFailed(ctx, "remove", key, err)
	}
	s.markRemoval()
	return nil
}

func (s *Service) markRemoval() {
	s.removedAt.Store(s.gen.Add(1))
}

// currentSeq returns the sequence of the stored entry, or removedAt when
// key is absent or unreadable. Callers hold the key lock.
func (s *Service) currentSeq(ctx context.Context, key string) uint64 {
	raw, found, err := s.store.Get(ctx, key)
	if err != nil || !found {
		return s.removedAt.Load()
	}
	e, err := DecodeEntry(raw)
	if err != nil {
		return s.removedAt.Load()
	}
	s.observeSeq(e.Seq)
	return e.Seq
}

// observeSeq raises gen past a sequence written by an earlier process.
func (s *Service) observeSeq(seq uint64) {
	for {
		g := s.gen.Load()
		if seq <= g || s.gen.CompareAndSwap(g, seq) {
			return
		}
	}
}

func (s *Service) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *Service) writeFailed(ctx context.Context, op, key string, err error) error {
	s.logger.Warn(ctx, "cache write failed",
		observe.Field{Key: "op", Value: op},
		observe.Field{Key: "key", Value: key},
		observe.Err(err),
	)
	return fmt.Errorf("%w: %s %q: %w", ErrStorageFailure, op, key, err)
}
