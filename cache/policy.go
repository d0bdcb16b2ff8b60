package cache

import (
	"errors"
	"time"
)

// Category is a logical cache bucket with its own TTL.
type Category string

const (
	CategoryEntity Category = "entity"
	CategoryList   Category = "list"
	CategoryFilter Category = "filter"
)

// Categories lists every category in key-prefix order.
var Categories = []Category{CategoryEntity, CategoryList, CategoryFilter}

// ErrInvalidPolicy indicates a non-positive TTL.
var ErrInvalidPolicy = errors.New("cache: every category TTL must be positive")

// Policy fixes the TTL of each category at configuration time.
type Policy struct {
	// EntityTTL bounds single-entity detail records.
	EntityTTL time.Duration

	// ListTTL bounds list pages. Lists go stale faster than entities.
	ListTTL time.Duration

	// FilterStateTTL bounds client filter and draft state. It is the longest
	// because it reflects user intent rather than server truth.
	FilterStateTTL time.Duration
}

// DefaultPolicy returns the default caching policy.
// EntityTTL: 30 minutes, ListTTL: 10 minutes, FilterStateTTL: 24 hours
func DefaultPolicy() Policy {
	return Policy{
		EntityTTL:      30 * time.Minute,
		ListTTL:        10 * time.Minute,
		FilterStateTTL: 24 * time.Hour,
	}
}

// Validate reports whether every TTL is positive.
func (p Policy) Validate() error {
	if p.EntityTTL <= 0 || p.ListTTL <= 0 || p.FilterStateTTL <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// TTL returns the TTL for a category. Unknown categories get zero.
func (p Policy) TTL(c Category) time.Duration {
	switch c {
	case CategoryEntity:
		return p.EntityTTL
	case CategoryList:
		return p.ListTTL
	case CategoryFilter:
		return p.FilterStateTTL
	default:
		return 0
	}
}
