package model

import (
	"encoding/json"
	"time"
)

// CacheEntry is a single TTL cache record.
type CacheEntry struct {
	Key       string
	Payload   []byte
	WrittenAt time.Time
	TTL       time.Duration
}

// cacheEntryJSON is the wire form. The TTL travels as whole milliseconds.
type cacheEntryJSON struct {
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	WrittenAt time.Time `json:"writtenAt"`
	TTLMillis int64     `json:"ttlMillis"`
}

// MarshalJSON encodes the entry with its TTL in milliseconds.
func (e CacheEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(cacheEntryJSON{
		Key:       e.Key,
		Payload:   e.Payload,
		WrittenAt: e.WrittenAt,
		TTLMillis: e.TTL.Milliseconds(),
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (e *CacheEntry) UnmarshalJSON(b []byte) error {
	var w cacheEntryJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*e = CacheEntry{
		Key:       w.Key,
		Payload:   w.Payload,
		WrittenAt: w.WrittenAt,
		TTL:       time.Duration(w.TTLMillis) * time.Millisecond,
	}
	return nil
}

// Fresh reports whether the entry is still present at now.
// An entry is present only while now - WrittenAt < TTL.
func (e CacheEntry) Fresh(now time.Time) bool {
	return now.Sub(e.WrittenAt) < e.TTL
}

// ExpiresAt returns the first instant at which the entry is absent.
func (e CacheEntry) ExpiresAt() time.Time {
	return e.WrittenAt.Add(e.TTL)
}
