package cache

import (
	"encoding/json"
	"fmt"
)

// Load decodes a cached payload into T. It accepts the results of the Get
// methods directly:
//
//	listing, ok, err := cache.Load[Listing](svc.GetEntity(ctx, id))
func Load[T any](raw json.RawMessage, ok bool) (T, bool, error) {
	var v T
	if !ok {
		return v, false, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("cache: decode payload: %w", err)
	}
	return v, true, nil
}
