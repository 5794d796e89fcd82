package model

import (
	"encoding/json"
	"time"
)

// Envelope carries one collection between a desk and its authority.
// UpdatedAt is the logical time (epoch millis) of the last local mutation
// that produced Payload.
type Envelope struct {
	Collection Collection      `json:"collection"`
	Payload    json.RawMessage `json:"payload"`
	UpdatedAt  int64           `json:"updated_at"`
	// Exists is false when the authority holds nothing for the collection.
	Exists bool `json:"exists"`
}

// NowMillis returns the current wall clock in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Now returns the current UTC time truncated to milliseconds so that values
// survive a round trip through PostgreSQL and JavaScript unchanged.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NormalizeTime applies the same normalization to a time read from storage.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
