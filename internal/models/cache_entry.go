package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// CacheEntry is the last known good response for a logical resource key.
type CacheEntry struct {
	Key      string    `json:"key"`
	Data     Value     `json:"data"`
	StoredAt time.Time `json:"stored_at"`
}

// FreshAt reports whether the entry is no older than maxAge at now.
func (e CacheEntry) FreshAt(now time.Time, maxAge time.Duration) bool {
	return now.Sub(e.StoredAt) <= maxAge
}

// EncodeCacheEntry serializes an entry for the persistent store.
func EncodeCacheEntry(e CacheEntry) (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode cache entry %s: %w", e.Key, err)
	}
	return string(b), nil
}

// DecodeCacheEntry parses a stored entry.
func DecodeCacheEntry(s string) (CacheEntry, error) {
	var e CacheEntry
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return CacheEntry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	if e.StoredAt.IsZero() {
		return CacheEntry{}, fmt.Errorf("decode cache entry %s: missing stored_at", e.Key)
	}
	return e, nil
}
