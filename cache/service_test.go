package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jonwraymond/marketcache/kv"
)

type listing struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func newTestService(t *testing.T) (*Service, *kv.MemoryStore, clockwork.FakeClock) {
	t.Helper()
	store := kv.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc, err := NewService(store, Options{Namespace: "reg", Clock: clock})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, store, clock
}

// failingStore fails selected operations.
type failingStore struct {
	kv.Store
	failGet, failSet, failRemove bool
}

var errBackend = errors.New("disk full")

func (f *failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failGet {
		return "", false, errBackend
	}
	return f.Store.Get(ctx, key)
}

func (f *failingStore) Set(ctx context.Context, key, value string) error {
	if f.failSet {
		return errBackend
	}
	return f.Store.Set(ctx, key, value)
}

func (f *failingStore) Remove(ctx context.Context, key string) error {
	if f.failRemove {
		return errBackend
	}
	return f.Store.Remove(ctx, key)
}

func TestService_RoundTripEveryCategory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	want := listing{ID: "42", Status: "pending"}

	if err := svc.CacheEntity(ctx, "42", want); err != nil {
		t.Fatal(err)
	}
	if err := svc.CacheList(ctx, "pending", 1, []listing{want}); err != nil {
		t.Fatal(err)
	}
	if err := svc.CacheFilterState(ctx, "draft", map[string]any{"q": "tractor"}); err != nil {
		t.Fatal(err)
	}

	got, ok, err := Load[listing](svc.GetEntity(ctx, "42"))
	if err != nil || !ok || got != want {
		t.Fatalf("GetEntity = %+v, %v, %v", got, ok, err)
	}
	page, ok, err := Load[[]listing](svc.GetList(ctx, "pending", 1))
	if err != nil || !ok || len(page) != 1 || page[0] != want {
		t.Fatalf("GetList = %+v, %v, %v", page, ok, err)
	}
	state, ok := svc.GetFilterState(ctx, "draft")
	if !ok || string(state) != `{"q":"tractor"}` {
		t.Fatalf("GetFilterState = %s, %v", state, ok)
	}
}

func TestService_MissIsNotAnError(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if v, ok := svc.GetEntity(ctx, "missing"); ok || v != nil {
		t.Errorf("GetEntity(missing) = %s, %v", v, ok)
	}
	if _, ok := svc.GetList(ctx, "any", 3); ok {
		t.Error("GetList(missing) reported hit")
	}
	if _, ok := svc.GetFilterState(ctx, "none"); ok {
		t.Error("GetFilterState(missing) reported hit")
	}
}

func TestService_LazyExpiryPerCategory(t *testing.T) {
	tests := []struct {
		name  string
		write func(*Service) error
		read  func(*Service) bool
		ttl   time.Duration
	}{
		{
			name:  "entity",
			write: func(s *Service) error { return s.CacheEntity(context.Background(), "1", "x") },
			read:  func(s *Service) bool { _, ok := s.GetEntity(context.Background(), "1"); return ok },
			ttl:   30 * time.Minute,
		},
		{
			name:  "list",
			write: func(s *Service) error { return s.CacheList(context.Background(), "sig", 1, []int{1}) },
			read:  func(s *Service) bool { _, ok := s.GetList(context.Background(), "sig", 1); return ok },
			ttl:   10 * time.Minute,
		},
		{
			name:  "filter",
			write: func(s *Service) error { return s.CacheFilterState(context.Background(), "f", 1) },
			read:  func(s *Service) bool { _, ok := s.GetFilterState(context.Background(), "f"); return ok },
			ttl:   24 * time.Hour,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, clock := newTestService(t)
			if err := tt.write(svc); err != nil {
				t.Fatal(err)
			}
			clock.Advance(tt.ttl)
			if !tt.read(svc) {
				t.Fatal("entry expired at exactly ttl")
			}
			clock.Advance(time.Second)
			if tt.read(svc) {
				t.Fatal("expired entry returned")
			}
			if store.Len() != 0 {
				t.Errorf("expired entry not removed on read, %d left", store.Len())
			}
		})
	}
}

func TestService_ClearByFilterIsolation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for _, c := range []struct {
		sig  string
		page int
	}{{"pending", 1}, {"pending", 2}, {"approved", 1}, {"pending2", 1}} {
		if err := svc.CacheList(ctx, c.sig, c.page, []string{c.sig}); err != nil {
			t.Fatal(err)
		}
	}

	if err := svc.ClearByFilter(ctx, "pending"); err != nil {
		t.Fatalf("ClearByFilter() error = %v", err)
	}
	if _, ok := svc.GetList(ctx, "pending", 1); ok {
		t.Error("pending page 1 survived")
	}
	if _, ok := svc.GetList(ctx, "pending", 2); ok {
		t.Error("pending page 2 survived")
	}
	if _, ok := svc.GetList(ctx, "approved", 1); !ok {
		t.Error("approved page 1 was cleared")
	}
	if _, ok := svc.GetList(ctx, "pending2", 1); !ok {
		t.Error("pending2 page 1 was cleared")
	}
}

func TestService_ClearAll(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	other, err := NewService(store, Options{Namespace: "other"})
	if err != nil {
		t.Fatal(err)
	}
	_ = svc.CacheEntity(ctx, "1", "a")
	_ = svc.CacheList(ctx, "s", 1, []int{1})
	_ = svc.CacheFilterState(ctx, "f", true)
	_ = other.CacheEntity(ctx, "1", "kept")

	if err := svc.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if _, ok := svc.GetEntity(ctx, "1"); ok {
		t.Error("entity survived ClearAll")
	}
	if _, ok := svc.GetList(ctx, "s", 1); ok {
		t.Error("list survived ClearAll")
	}
	if _, ok := svc.GetFilterState(ctx, "f"); ok {
		t.Error("filter state survived ClearAll")
	}
	if _, ok := other.GetEntity(ctx, "1"); !ok {
		t.Error("ClearAll touched another namespace")
	}
}

func TestService_ClearExpired(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	_ = svc.CacheList(ctx, "s", 1, []int{1})
	_ = svc.CacheEntity(ctx, "1", "a")
	_ = store.Set(ctx, "reg:entity:corrupt", "not json")

	clock.Advance(15 * time.Minute)
	n, err := svc.ClearExpired(ctx)
	if err != nil {
		t.Fatalf("ClearExpired() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ClearExpired() removed %d, want 2 (list + corrupt)", n)
	}
	if _, ok := svc.GetEntity(ctx, "1"); !ok {
		t.Error("live entity removed by sweep")
	}
}

func TestService_StatsIsReadOnly(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	_ = svc.CacheEntity(ctx, "1", "a")
	_ = svc.CacheList(ctx, "s", 1, []int{1})
	_ = svc.CacheFilterState(ctx, "f", 1)
	clock.Advance(11 * time.Minute)

	first, err := svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := svc.Stats(ctx)
	if first.Total != 3 || first.Expired != 1 || first.Bytes == 0 {
		t.Errorf("Stats() = %+v", first)
	}
	if first.ByCategory[CategoryList] != 1 || first.ByCategory[CategoryEntity] != 1 {
		t.Errorf("ByCategory = %v", first.ByCategory)
	}
	if second.Total != first.Total || second.Expired != first.Expired || store.Len() != 3 {
		t.Error("Stats modified the cache")
	}
}

func TestService_ReadFailureDegradesToMiss(t *testing.T) {
	base := kv.NewMemoryStore()
	fs := &failingStore{Store: base}
	svc, err := NewService(fs, Options{Namespace: "reg"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = svc.CacheEntity(ctx, "1", "a")

	fs.failGet = true
	if _, ok := svc.GetEntity(ctx, "1"); ok {
		t.Error("GetEntity should report a miss on storage failure")
	}
	if _, _, err := svc.LookupEntity(ctx, "1"); !errors.Is(err, ErrStorageFailure) {
		t.Errorf("LookupEntity() error = %v, want ErrStorageFailure", err)
	}
}

func TestService_WriteFailureIsSurfaced(t *testing.T) {
	fs := &failingStore{Store: kv.NewMemoryStore(), failSet: true}
	svc, _ := NewService(fs, Options{Namespace: "reg"})
	err := svc.CacheEntity(context.Background(), "1", "a")
	if !errors.Is(err, ErrStorageFailure) || !errors.Is(err, errBackend) {
		t.Fatalf("CacheEntity() error = %v", err)
	}
}

func TestService_CorruptEntryIsMiss(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	_ = store.Set(ctx, "reg:entity:1", "{")
	if _, ok := svc.GetEntity(ctx, "1"); ok {
		t.Error("corrupt entry returned")
	}
	if _, _, err := svc.LookupEntity(ctx, "1"); !errors.Is(err, ErrCorruptEntry) {
		t.Errorf("LookupEntity() error = %v, want ErrCorruptEntry", err)
	}
}

func TestService_InvalidKeys(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for _, id := range []string{"", "  ", "a:b", "a\nb"} {
		if err := svc.CacheEntity(ctx, id, 1); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("CacheEntity(%q) error = %v", id, err)
		}
	}
	if err := svc.CacheList(ctx, "s", -1, nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("negative page error = %v", err)
	}
	if err := svc.ClearByFilter(ctx, "a:b"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ClearByFilter error = %v", err)
	}
}

func TestService_GuardedWrite(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	seq, err := svc.EntitySeq(ctx, "me")
	if err != nil || seq != 0 {
		t.Fatalf("EntitySeq() = %d, %v", seq, err)
	}
	// A foreground write lands after the snapshot.
	if err := svc.CacheEntity(ctx, "me", "fresh"); err != nil {
		t.Fatal(err)
	}
	if err := svc.CacheEntityIfSeq(ctx, "me", "stale", seq); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("CacheEntityIfSeq() error = %v, want ErrStaleWrite", err)
	}
	got, _, _ := Load[string](svc.GetEntity(ctx, "me"))
	if got != "fresh" {
		t.Errorf("entity = %q, want fresh", got)
	}

	seq, _ = svc.EntitySeq(ctx, "me")
	if err := svc.CacheEntityIfSeq(ctx, "me", "newer", seq); err != nil {
		t.Fatalf("CacheEntityIfSeq() with current seq error = %v", err)
	}
}

func TestService_GuardSurvivesClearAndRestart(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	seq, _ := svc.EntitySeq(ctx, "me")
	if err := svc.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	if err := svc.CacheEntityIfSeq(ctx, "me", "late", seq); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("write after ClearAll error = %v, want ErrStaleWrite", err)
	}

	_ = svc.CacheEntity(ctx, "me", "v1")
	_ = svc.CacheEntity(ctx, "me", "v2")
	want, _ := svc.EntitySeq(ctx, "me")

	restarted, _ := NewService(store, Options{Namespace: "reg"})
	got, _ := restarted.EntitySeq(ctx, "me")
	if got != want {
		t.Errorf("seq after restart = %d, want %d", got, want)
	}
}

func TestService_GuardAcrossRemoveAndRewrite(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_ = svc.CacheEntity(ctx, "me", "v1")
	seq, _ := svc.EntitySeq(ctx, "me")
	_ = svc.InvalidateEntity(ctx, "me")
	_ = svc.CacheEntity(ctx, "me", "v2")
	if err := svc.CacheEntityIfSeq(ctx, "me", "late", seq); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("write after invalidate and rewrite error = %v, want ErrStaleWrite", err)
	}

	// A new process must not hand out a sequence it has already observed.
	restarted, _ := NewService(store, Options{Namespace: "reg"})
	seq, _ = restarted.EntitySeq(ctx, "me")
	_ = restarted.CacheEntity(ctx, "other", "x")
	_ = restarted.InvalidateEntity(ctx, "me")
	_ = restarted.CacheEntity(ctx, "me", "v3")
	if err := restarted.CacheEntityIfSeq(ctx, "me", "late", seq); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("write after restart error = %v, want ErrStaleWrite", err)
	}
	got, _, _ := Load[string](restarted.GetEntity(ctx, "me"))
	if got != "v3" {
		t.Errorf("entity = %q, want v3", got)
	}
}

func TestService_ConcurrentIndependentPages(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for page := 0; page < 20; page++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			_ = svc.CacheList(ctx, "sig", page, []int{page})
			_, _ = svc.ClearExpired(ctx)
		}(page)
	}
	wg.Wait()
	for page := 0; page < 20; page++ {
		items, ok, err := Load[[]int](svc.GetList(ctx, "sig", page))
		if err != nil || !ok || items[0] != page {
			t.Errorf("page %d = %v, %v, %v", page, items, ok, err)
		}
	}
}

func TestNewService_InvalidOptions(t *testing.T) {
	if _, err := NewService(kv.NewMemoryStore(), Options{Namespace: "a:b"}); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("bad namespace error = %v", err)
	}
	bad := Options{Policy: Policy{EntityTTL: time.Minute}}
	if _, err := NewService(kv.NewMemoryStore(), bad); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("bad policy error = %v", err)
	}
}

func ExampleService() {
	ctx := context.Background()
	svc, _ := NewService(kv.NewMemoryStore(), DefaultOptions())

	sig, _ := FilterSignature(map[string]any{"status": "pending", "region": "north"})
	_ = svc.CacheList(ctx, sig, 1, []string{"listing-1", "listing-2"})

	page, ok := svc.GetList(ctx, sig, 1)
	fmt.Println(ok, string(page))

	_ = svc.ClearByFilter(ctx, sig)
	_, ok = svc.GetList(ctx, sig, 1)
	fmt.Println(ok)
	// Output:
	// true ["listing-1","listing-2"]
	// false
}

func ExampleLoad() {
	ctx := context.Background()
	svc, _ := NewService(kv.NewMemoryStore(), DefaultOptions())
	_ = svc.CacheEntity(ctx, "42", json.RawMessage(`{"id":"42","status":"approved"}`))

	l, ok, err := Load[listing](svc.GetEntity(ctx, "42"))
	fmt.Println(l.Status, ok, err)
	// Output: approved true <nil>
}
