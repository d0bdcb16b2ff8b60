package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is a payload stamped with its write time, TTL and write sequence.
type Entry struct {
	Payload   json.RawMessage
	WrittenAt time.Time
	TTL       time.Duration
	Seq       uint64
}

// Expired reports whether now - WrittenAt exceeds TTL.
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.WrittenAt) > e.TTL
}

type wireEntry struct {
	Payload   json.RawMessage `json:"payload"`
	WrittenAt int64           `json:"written_at"`
	TTLMillis int64           `json:"ttl_ms"`
	Seq       uint64          `json:"seq"`
}

// EncodeEntry serializes e for storage. Times are stored as Unix milliseconds.
func EncodeEntry(e Entry) (string, error) {
	data, err := json.Marshal(wireEntry{
		Payload:   e.Payload,
		WrittenAt: e.WrittenAt.UnixMilli(),
		TTLMillis: e.TTL.Milliseconds(),
		Seq:       e.Seq,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeEntry parses a stored entry.
func DecodeEntry(s string) (Entry, error) {
	var w wireEntry
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	if len(w.Payload) == 0 {
		return Entry{}, fmt.Errorf("%w: missing payload", ErrCorruptEntry)
	}
	return Entry{
		Payload:   w.Payload,
		WrittenAt: time.UnixMilli(w.WrittenAt),
		TTL:       time.Duration(w.TTLMillis) * time.Millisecond,
		Seq:       w.Seq,
	}, nil
}
