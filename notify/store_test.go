package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jonwraymond/marketcache/auth"
	"github.com/jonwraymond/marketcache/kv"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts Options) (*Store, *kv.MemoryStore, clockwork.FakeClock) {
	t.Helper()
	backend := kv.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(testNow)
	opts.Clock = clock
	return NewStore(backend, auth.ContextSource(), opts), backend, clock
}

func asUser(id string) context.Context {
	return auth.WithIdentity(context.Background(), &auth.Identity{UserID: id})
}

func rejected(reason string) Record {
	return Record{Type: TypeRejected, Title: "Registration rejected", Body: "see reason", RejectionReason: String(reason)}
}

func TestStore_SaveOrdersMostRecentFirst(t *testing.T) {
	s, _, clock := newTestStore(t, DefaultOptions())
	ctx := asUser("u-1")

	first, err := s.Save(ctx, Record{Type: TypeApproved, Title: "Approved"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if first.ID == "" {
		t.Fatal("Save() did not assign an id")
	}
	if !first.ReceivedAt.Equal(testNow) {
		t.Errorf("ReceivedAt = %v, want %v", first.ReceivedAt, testNow)
	}
	clock.Advance(time.Minute)
	second, err := s.Save(ctx, rejected("blurry id"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(All()) = %d, want 2", len(all))
	}
	if all[0].ID != second.ID || all[1].ID != first.ID {
		t.Errorf("All() order = [%s %s], want [%s %s]", all[0].ID, all[1].ID, second.ID, first.ID)
	}
	if all[0].RejectionReason == nil || *all[0].RejectionReason != "blurry id" {
		t.Errorf("RejectionReason = %v", all[0].RejectionReason)
	}
}

func TestStore_DedupInheritsIDAndReadState(t *testing.T) {
	s, _, clock := newTestStore(t, DefaultOptions())
	ctx := asUser("u-1")

	orig, err := s.Save(ctx, rejected("missing permit"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.MarkAsRead(ctx, orig.ID); err != nil {
		t.Fatalf("MarkAsRead() error = %v", err)
	}
	clock.Advance(time.Hour)

	again := rejected("missing permit")
	again.Body = "redelivered"
	saved, err := s.Save(ctx, again)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.ID != orig.ID {
		t.Errorf("saved.ID = %s, want inherited %s", saved.ID, orig.ID)
	}

	all, _ := s.All(ctx)
	if len(all) != 1 {
		t.Fatalf("len(All()) = %d, want 1", len(all))
	}
	got := all[0]
	if !got.IsRead {
		t.Error("re-delivered record lost its read state")
	}
	if got.Body != "redelivered" {
		t.Errorf("Body = %q, want redelivered", got.Body)
	}
	if got.ActionTakenAt == nil || !got.ActionTakenAt.Equal(testNow) {
		t.Errorf("ActionTakenAt = %v, want %v", got.ActionTakenAt, testNow)
	}
}

func TestStore_DedupKeepsPosition(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())
	ctx := asUser("u-1")

	a, _ := s.Save(ctx, rejected("a"))
	_, _ = s.Save(ctx, rejected("b"))
	_, _ = s.Save(ctx, rejected("a"))

	all, _ := s.All(ctx)
	if len(all) != 2 {
		t.Fatalf("len(All()) = %d, want 2", len(all))
	}
	if all[1].ID != a.ID {
		t.Errorf("replaced record moved: All()[1].ID = %s, want %s", all[1].ID, a.ID)
	}
}

func TestStore_DedupTuple(t *testing.T) {
	tests := []struct {
		name string
		a, b Record
		want int
	}{
		{"identical", rejected("x"), rejected("x"), 1},
		{"different reason", rejected("x"), rejected("y"), 2},
		{"reason vs none", rejected("x"), Record{Type: TypeRejected, Title: "t"}, 2},
		{"different type", Record{Type: TypeApproved, Title: "t"}, Record{Type: TypeOther, Title: "t"}, 2},
		{
			"different notes",
			Record{Type: TypeApproved, Title: "t", ApprovalNotes: String("welcome")},
			Record{Type: TypeApproved, Title: "t", ApprovalNotes: String("welcome back")},
			2,
		},
		{"both empty optionals", Record{Type: TypeApproved, Title: "a"}, Record{Type: TypeApproved, Title: "b"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestStore(t, DefaultOptions())
			ctx := asUser("u-1")
			if _, err := s.Save(ctx, tt.a); err != nil {
				t.Fatalf("Save(a) error = %v", err)
			}
			if _, err := s.Save(ctx, tt.b); err != nil {
				t.Fatalf("Save(b) error = %v", err)
			}
			all, _ := s.All(ctx)
			if len(all) != tt.want {
				t.Errorf("len(All()) = %d, want %d", len(all), tt.want)
			}
		})
	}
}

func TestStore_Bound(t *testing.T) {
	s, _, clock := newTestStore(t, DefaultOptions())
	ctx := asUser("u-1")

	for i := 0; i < 105; i++ {
		if _, err := s.Save(ctx, rejected(fmt.Sprintf("r%03d", i))); err != nil {
			t.Fatalf("Save(%d) error = %v", i, err)
		}
		clock.Advance(time.Second)
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != DefaultMaxRecords {
		t.Fatalf("len(All()) = %d, want %d", len(all), DefaultMaxRecords)
	}
	if got := *all[0].RejectionReason; got != "r104" {
		t.Errorf("newest = %s, want r104", got)
	}
	if got := *all[len(all)-1].RejectionReason; got != "r005" {
		t.Errorf("oldest kept = %s, want r005", got)
	}
	for i := 1; i < len(all); i++ {
		if all[i].ReceivedAt.After(all[i-1].ReceivedAt) {
			t.Fatalf("order broken at %d", i)
		}
	}
}

func TestStore_CustomBound(t *testing.T) {
	s, _, _ := newTestStore(t, Options{MaxRecords: 3})
	ctx := asUser("u-1")
	for i := 0; i < 5; i++ {
		_, _ = s.Save(ctx, rejected(fmt.Sprint(i)))
	}
	all, _ := s.All(ctx)
	if len(all) != 3 {
		t.Errorf("len(All()) = %d, want 3", len(all))
	}
}

func TestStore_PartitionIsolation(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())
	alice, bob := asUser("alice"), asUser("bob")

	if _, err := s.Save(alice, rejected("alice only")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.All(bob)
	if err != nil {
		t.Fatalf("All(bob) error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("bob sees %d of alice's records", len(got))
	}
	if n, _ := s.UnreadCount(bob); n != 0 {
		t.Errorf("UnreadCount(bob) = %d, want 0", n)
	}

	if err := s.ClearAll(bob); err != nil {
		t.Fatalf("ClearAll(bob) error = %v", err)
	}
	if got, _ := s.All(alice); len(got) != 1 {
		t.Errorf("ClearAll(bob) touched alice: len = %d", len(got))
	}
}

func TestStore_Filters(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())
	ctx := asUser("u-1")

	approved, _ := s.Save(ctx, Record{Type: TypeApproved, Title: "Approved"})
	_, _ = s.Save(ctx, rejected("a"))
	_, _ = s.Save(ctx, rejected("b"))
	_, _ = s.Save(ctx, Record{Type: TypeInfoRequested, Title: "Need more"})
	_ = s.MarkAsRead(ctx, approved.ID)

	tests := []struct {
		typ  Type
		want int
	}{
		{TypeApproved, 1},
		{TypeRejected, 2},
		{TypeInfoRequested, 1},
		{TypeOther, 0},
	}
	for _, tt := range tests {
		got, err := s.ByType(ctx, tt.typ)
		if err != nil {
			t.Fatalf("ByType(%s) error = %v", tt.typ, err)
		}
		if len(got) != tt.want {
			t.Errorf("ByType(%s) = %d records, want %d", tt.typ, len(got), tt.want)
		}
	}

	unread, _ := s.Unread(ctx)
	if len(unread) != 3 {
		t.Errorf("len(Unread()) = %d, want 3", len(unread))
	}
	if n, _ := s.UnreadCount(ctx); n != 3 {
		t.Errorf("UnreadCount() = %d, want 3", n)
	}
}

func TestStore_MarkAsRead(t *testing.T) {
	s, _, clock := newTestStore(t, DefaultOptions())
	ctx := asUser("u-1")
	rec, _ := s.Save(ctx, rejected("x"))

	clock.Advance(5 * time.Minute)
	if err := s.MarkAsRead(ctx, rec.ID); err != nil {
		t.Fatalf("MarkAsRead() error = %v", err)
	}
	if err := s.MarkAsRead(ctx, "00000000-0000-0000-0000-000000000000"); err != nil {
		t.Errorf("MarkAsRead(unknown) error = %v, want nil", err)
	}

	all, _ := s.All(ctx)
	if !all[0].IsRead {
		t.Error("IsRead = false after MarkAsRead")
	}
	want := testNow.Add(5 * time.Minute)
	if all[0].ActionTakenAt == nil || !all[0].ActionTakenAt.Equal(want) {
		t.Errorf("ActionTakenAt = %v, want %v", all[0].ActionTakenAt, want)
	}
}

func TestStore_MarkAllAsRead(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())
	ctx := asUser("u-1")
	for _, r := range []string{"a", "b", "c"} {
		_, _ = s.Save(ctx, rejected(r))
	}
	if err := s.MarkAllAsRead(ctx); err != nil {
		t.Fatalf("MarkAllAsRead() error = %v", err)
	}
	if n, _ := s.UnreadCount(ctx); n != 0 {
		t.Errorf("UnreadCount() = %d, want 0", n)
	}
	all, _ := s.All(ctx)
	for _, r := range all {
		if r.ActionTakenAt == nil {
			t.Errorf("record %s has no ActionTakenAt", r.ID)
		}
	}
}

func TestStore_Delete(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())
	ctx := asUser("u-1")
	a, _ := s.Save(ctx, rejected("a"))
	b, _ := s.Save(ctx, rejected("b"))

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, a.ID); err != nil {
		t.Errorf("Delete(absent) error = %v, want nil", err)
	}
	all, _ := s.All(ctx)
	if len(all) != 1 || all[0].ID != b.ID {
		t.Errorf("All() after Delete = %+v", all)
	}
}

func TestStore_ClearAll(t *testing.T) {
	s, backend, _ := newTestStore(t, DefaultOptions())
	ctx := asUser("u-1")
	_, _ = s.Save(ctx, rejected("a"))

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	all, _ := s.All(ctx)
	if len(all) != 0 {
		t.Errorf("len(All()) = %d after ClearAll", len(all))
	}
	if _, ok, _ := backend.Get(ctx, "notifications:user:u-1"); ok {
		t.Error("partition key still present after ClearAll")
	}
}

func TestStore_Validation(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())
	ctx := asUser("u-1")

	tests := []struct {
		name string
		rec  Record
	}{
		{"missing title", Record{Type: TypeApproved}},
		{"unknown type", Record{Type: "archived", Title: "t"}},
		{"blank reason", Record{Type: TypeRejected, Title: "t", RejectionReason: String("  ")}},
		{"oversized id", Record{ID: strings.Repeat("x", 129), Type: TypeOther, Title: "t"}},
		{"actioned but unread", Record{Type: TypeOther, Title: "t", ActionTakenAt: &testNow}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Save(ctx, tt.rec)
			if !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("Save() error = %v, want ErrInvalidRecord", err)
			}
		})
	}
	if all, _ := s.All(ctx); len(all) != 0 {
		t.Errorf("invalid records were stored: %d", len(all))
	}
}

func TestStore_KeepsServerID(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())
	ctx := asUser("u-1")

	got, err := s.Save(ctx, Record{ID: "42", Type: TypeApproved, Title: "Approved"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got.ID != "42" {
		t.Errorf("ID = %q, want 42", got.ID)
	}
}

func TestStore_CorruptHistory(t *testing.T) {
	s, backend, _ := newTestStore(t, DefaultOptions())
	ctx := asUser("u-1")
	_ = backend.Set(ctx, "notifications:user:u-1", "{not json")

	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 0 {
		t.Errorf("len(All()) = %d, want 0", len(all))
	}
	if _, err := s.Save(ctx, rejected("fresh")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if all, _ := s.All(ctx); len(all) != 1 {
		t.Errorf("len(All()) = %d, want 1", len(all))
	}
}

func TestStore_StorageFailure(t *testing.T) {
	s, backend, _ := newTestStore(t, DefaultOptions())
	ctx := asUser("u-1")
	_ = backend.Close()

	if _, err := s.Save(ctx, rejected("x")); !errors.Is(err, kv.ErrClosed) {
		t.Errorf("Save() error = %v, want kv.ErrClosed", err)
	}
	if _, err := s.All(ctx); !errors.Is(err, kv.ErrClosed) {
		t.Errorf("All() error = %v, want kv.ErrClosed", err)
	}
}

func TestStore_ConcurrentSaves(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())
	ctx := asUser("u-1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Save(ctx, rejected(fmt.Sprint(i))); err != nil {
				t.Errorf("Save(%d) error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if all, _ := s.All(ctx); len(all) != 20 {
		t.Errorf("len(All()) = %d, want 20", len(all))
	}
}

func ExampleStore() {
	backend := kv.NewMemoryStore()
	store := NewStore(backend, auth.StaticSource("seller-42", ""), DefaultOptions())
	ctx := context.Background()

	first, _ := store.Save(ctx, Record{Type: TypeRejected, Title: "Rejected", RejectionReason: String("blurry id")})
	_ = store.MarkAsRead(ctx, first.ID)
	_, _ = store.Save(ctx, Record{Type: TypeRejected, Title: "Rejected again", RejectionReason: String("blurry id")})

	all, _ := store.All(ctx)
	fmt.Println(len(all), all[0].Title, all[0].IsRead)
	// Output: 1 Rejected again true
}
