package kv

import (
	"context"
	"strings"
)

// NamespacedStore scopes every key of an underlying Store under a prefix.
// Closing a NamespacedStore does not close the underlying store.
type NamespacedStore struct {
	base   Store
	prefix string
}

// Namespaced returns a view of base where every key is stored as
// "<namespace>/<key>".
func Namespaced(base Store, namespace string) *NamespacedStore {
	return &NamespacedStore{base: base, prefix: namespace + "/"}
}

func (s *NamespacedStore) Get(ctx context.Context, key string) (string, bool, error) {
	return s.base.Get(ctx, s.prefix+key)
}

func (s *NamespacedStore) Set(ctx context.Context, key, value string) error {
	return s.base.Set(ctx, s.prefix+key, value)
}

func (s *NamespacedStore) Remove(ctx context.Context, key string) error {
	return s.base.Remove(ctx, s.prefix+key)
}

// Keys returns matching keys with the namespace stripped.
func (s *NamespacedStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.base.Keys(ctx, s.prefix+prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = strings.TrimPrefix(k, s.prefix)
	}
	return out, nil
}

func (s *NamespacedStore) Ping(ctx context.Context) error {
	return s.base.Ping(ctx)
}

func (s *NamespacedStore) Close() error {
	return nil
}

var _ Store = (*NamespacedStore)(nil)
