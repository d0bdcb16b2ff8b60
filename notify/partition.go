package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jonwraymond/marketcache/auth"
	"github.com/jonwraymond/marketcache/kv"
)

// DeviceTokenKey is where the fallback device token is persisted.
const DeviceTokenKey = "notify:device_token"

// KeyPrefix prefixes every partition key.
const KeyPrefix = "notifications:"

// Partition kinds, in precedence order.
const (
	KindUser   = "user"
	KindPhone  = "phone"
	KindDevice = "device"
)

// Partition identifies the storage owned by one logical user.
type Partition struct {
	Kind  string
	Value string
}

// Key returns the storage key of the partition.
func (p Partition) Key() string {
	return KeyPrefix + p.Kind + ":" + p.Value
}

func (p Partition) String() string { return p.Key() }

// Resolver derives the partition from the current identity.
//
// Contract:
// - Concurrency: safe for concurrent use. The device token is generated at
// most once per store.
// - Precedence: user id, then normalized phone, then device token.
// - With RequireUserID, an identity without user id yields ErrNoIdentity.
type Resolver struct {
	source        auth.IdentitySource
	store         kv.Store
	requireUserID bool

	mu sync.Mutex
}

// NewResolver creates a Resolver. A nil source resolves every call to the
// device partition.
func NewResolver(source auth.IdentitySource, store kv.Store, requireUserID bool) *Resolver {
	if source == nil {
		source = auth.ContextSource()
	}
	return &Resolver{source: source, store: store, requireUserID: requireUserID}
}

// Resolve returns the partition for the current identity.
func (r *Resolver) Resolve(ctx context.Context) (Partition, error) {
	id, err := r.source.Identity(ctx)
	if err != nil {
		return Partition{}, fmt.Errorf("notify: resolve identity: %w", err)
	}
	if id != nil {
		if uid := strings.TrimSpace(id.UserID); uid != "" && validValue(uid) {
			return Partition{Kind: KindUser, Value: uid}, nil
		}
	}
	if r.requireUserID {
		return Partition{}, ErrNoIdentity
	}
	if id != nil {
		if phone := NormalizePhone(id.Phone); phone != "" {
			return Partition{Kind: KindPhone, Value: phone}, nil
		}
	}
	token, err := r.deviceToken(ctx)
	if err != nil {
		return Partition{}, err
	}
	return Partition{Kind: KindDevice, Value: token}, nil
}

func (r *Resolver) deviceToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok, err := r.store.Get(ctx, DeviceTokenKey)
	if err != nil {
		return "", fmt.Errorf("notify: read device token: %w", err)
	}
	if ok && token != "" {
		return token, nil
	}
	token = uuid.NewString()
	if err := r.store.Set(ctx, DeviceTokenKey, token); err != nil {
		return "", fmt.Errorf("notify: persist device token: %w", err)
	}
	return token, nil
}

// NormalizePhone keeps digits and a leading plus sign. It returns "" when no
// digits remain.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, c := range phone {
		switch {
		case c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '+' && i == 0:
			b.WriteRune(c)
		}
	}
	out := b.String()
	if strings.Trim(out, "+") == "" {
		return ""
	}
	return out
}

func validValue(s string) bool {
	return !strings.ContainsAny(s, ":\n\r")
}
