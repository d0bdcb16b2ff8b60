package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/jonwraymond/marketcache/auth"
	"github.com/jonwraymond/marketcache/kv"
	"github.com/jonwraymond/marketcache/observe"
)

// DefaultMaxRecords bounds the history of one partition.
const DefaultMaxRecords = 100

// Options configures a Store.
type Options struct {
	// MaxRecords bounds each partition; older records are dropped.
	// Default: DefaultMaxRecords
	MaxRecords int

	// RequireUserID refuses every operation until the identity carries a
	// user id, instead of falling back to phone or device token.
	RequireUserID bool

	Clock  clockwork.Clock
	Logger observe.Logger
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{MaxRecords: DefaultMaxRecords}
}

// Store is the per-user notification history.
//
// Contract:
// - Concurrency: safe for concurrent use; read-modify-write cycles are
// serialized per store.
// - Every operation resolves the partition first and touches only it.
// - Missing ids are not errors for MarkAsRead and Delete.
type Store struct {
	kv       kv.Store
	resolver *Resolver
	max      int
	clock    clockwork.Clock
	logger   observe.Logger
	validate *validatorv10.Validate

	mu sync.Mutex
}

// NewStore creates a Store over store, deriving partitions from source.
func NewStore(store kv.Store, source auth.IdentitySource, opts Options) *Store {
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = DefaultMaxRecords
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = observe.NopLogger()
	}
	return &Store{
		kv:       store,
		resolver: NewResolver(source, store, opts.RequireUserID),
		max:      opts.MaxRecords,
		clock:    opts.Clock,
		logger:   opts.Logger.WithComponent("notify"),
		validate: newValidator(),
	}
}

// Partition returns the partition the current identity resolves to.
func (s *Store) Partition(ctx context.Context) (Partition, error) {
	return s.resolver.Resolve(ctx)
}

// Save stores rec and returns the stored form.
//
// A record matching an existing (type, rejection reason, approval notes)
// replaces it in place and inherits its id and read state. Otherwise rec is
// inserted first. The history is then truncated to MaxRecords.
func (s *Store) Save(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = s.clock.Now()
	}
	if err := validateRecord(s.validate, rec); err != nil {
		return Record{}, err
	}

	err := s.update(ctx, func(list []Record) []Record {
		for i, existing := range list {
			if existing.sameEvent(rec) {
				rec.ID = existing.ID
				rec.IsRead = existing.IsRead
				rec.ActionTakenAt = existing.ActionTakenAt
				list[i] = rec
				return list
			}
		}
		list = append([]Record{rec}, list...)
		if len(list) > s.max {
			s.logger.Debug(ctx, "notification history truncated",
				observe.Field{Key: "dropped", Value: len(list) - s.max})
			list = list[:s.max]
		}
		return list
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// All returns every record, most recent first.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	p, err := s.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, p)
}

// ByType returns the records of type t.
func (s *Store) ByType(ctx context.Context, t Type) ([]Record, error) {
	return s.filter(ctx, func(r Record) bool { return r.Type == t })
}

// Unread returns the records not yet read.
func (s *Store) Unread(ctx context.Context) ([]Record, error) {
	return s.filter(ctx, func(r Record) bool { return !r.IsRead })
}

// UnreadCount returns the number of unread records.
func (s *Store) UnreadCount(ctx context.Context) (int, error) {
	unread, err := s.Unread(ctx)
	return len(unread), err
}

// MarkAsRead marks the record with id as read now. Unknown ids are ignored.
func (s *Store) MarkAsRead(ctx context.Context, id string) error {
	now := s.clock.Now()
	return s.update(ctx, func(list []Record) []Record {
		for i := range list {
			if list[i].ID == id {
				list[i].markRead(now)
				break
			}
		}
		return list
	})
}

// MarkAllAsRead marks every record as read now.
func (s *Store) MarkAllAsRead(ctx context.Context) error {
	now := s.clock.Now()
	return s.update(ctx, func(list []Record) []Record {
		for i := range list {
			list[i].markRead(now)
		}
		return list
	})
}

// Delete removes the record with id. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.update(ctx, func(list []Record) []Record {
		for i := range list {
			if list[i].ID == id {
				return append(list[:i], list[i+1:]...)
			}
		}
		return list
	})
}

// ClearAll removes the whole partition of the current user.
func (s *Store) ClearAll(ctx context.Context) error {
	p, err := s.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Remove(ctx, p.Key()); err != nil {
		return fmt.Errorf("notify: clear %s: %w", p.Kind, err)
	}
	return nil
}

func (s *Store) filter(ctx context.Context, keep func(Record) bool) ([]Record, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// update applies fn to the partition history under the store lock.
func (s *Store) update(ctx context.Context, fn func([]Record) []Record) error {
	p, err := s.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.loadLocked(ctx, p)
	if err != nil {
		return err
	}
	return s.save(ctx, p, fn(list))
}

func (s *Store) load(ctx context.Context, p Partition) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, p)
}

func (s *Store) loadLocked(ctx context.Context, p Partition) ([]Record, error) {
	raw, ok, err := s.kv.Get(ctx, p.Key())
	if err != nil {
		return nil, fmt.Errorf("notify: load %s: %w", p.Kind, err)
	}
	if !ok || raw == "" {
		return []Record{}, nil
	}
	var list []Record
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		// An unreadable history is treated as empty; the next save rewrites it.
		s.logger.Warn(ctx, "discarding corrupt notification history",
			observe.Field{Key: "partition_kind", Value: p.Kind}, observe.Err(err))
		return []Record{}, nil
	}
	return list, nil
}

func (s *Store) save(ctx context.Context, p Partition, list []Record) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("notify: encode history: %w", err)
	}
	if err := s.kv.Set(ctx, p.Key(), string(data)); err != nil {
		s.logger.Warn(ctx, "failed to persist notification history",
			observe.Field{Key: "partition_kind", Value: p.Kind}, observe.Err(err))
		return fmt.Errorf("notify: save %s: %w", p.Kind, err)
	}
	return nil
}
