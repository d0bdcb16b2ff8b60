package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Keyer builds namespaced composite keys.
//
// Contract:
// - Determinism: identical inputs always produce identical keys.
// - Components never contain the ':' separator, so distinct inputs never collide.
type Keyer struct {
	Namespace string
}

// NewKeyer validates ns and returns a Keyer for it.
func NewKeyer(ns string) (Keyer, error) {
	if err := validateComponent(ns); err != nil {
		return Keyer{}, fmt.Errorf("%w: namespace %q", err, ns)
	}
	return Keyer{Namespace: ns}, nil
}

// Prefix returns the prefix shared by every key in the namespace.
func (k Keyer) Prefix() string { return k.Namespace + ":" }

// EntityKey returns {ns}:entity:{id}.
func (k Keyer) EntityKey(id string) (string, error) {
	return k.build(CategoryEntity, id)
}

// ListKey returns {ns}:list:{signature}:{page}.
func (k Keyer) ListKey(signature string, page int) (string, error) {
	if page < 0 {
		return "", fmt.Errorf("%w: negative page %d", ErrInvalidKey, page)
	}
	return k.build(CategoryList, signature, strconv.Itoa(page))
}

// ListPrefix returns the prefix shared by every page of one filter signature.
// The trailing separator keeps "pending" from matching "pending2".
func (k Keyer) ListPrefix(signature string) (string, error) {
	if err := validateComponent(signature); err != nil {
		return "", err
	}
	return k.Prefix() + string(CategoryList) + ":" + signature + ":", nil
}

// FilterStateKey returns {ns}:filter:{name}.
func (k Keyer) FilterStateKey(name string) (string, error) {
	return k.build(CategoryFilter, name)
}

// CategoryOf reports the category of a key built by this Keyer.
func (k Keyer) CategoryOf(key string) (Category, bool) {
	rest, ok := strings.CutPrefix(key, k.Prefix())
	if !ok {
		return "", false
	}
	head, _, _ := strings.Cut(rest, ":")
	for _, c := range Categories {
		if head == string(c) {
			return c, true
		}
	}
	return "", false
}

func (k Keyer) build(c Category, parts ...string) (string, error) {
	var b strings.Builder
	b.WriteString(k.Prefix())
	b.WriteString(string(c))
	for _, p := range parts {
		if err := validateComponent(p); err != nil {
			return "", fmt.Errorf("%w: %s component %q", err, c, p)
		}
		b.WriteByte(':')
		b.WriteString(p)
	}
	if b.Len() > MaxKeyLength {
		return "", ErrKeyTooLong
	}
	return b.String(), nil
}

// FilterSignature derives a deterministic signature from a query shape.
// The value is normalized through generic JSON first, so a struct and the
// equivalent map yield the same signature regardless of field or map order.
// Format: the first 32 hex characters of SHA-256(canonical JSON).
func FilterSignature(filters any) (string, error) {
	canonical, err := canonicalize(filters)
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize filters: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:16]), nil
}

func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	if m, ok := generic.(map[string]any); ok && len(m) == 0 {
		return []byte("{}"), nil
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(generic)
}
