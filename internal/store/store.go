// Package store provides the persisted key-value surface shared between the
// bridge, which writes scan results into it, and the findings view, which
// reads it.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Key families written by the bridge.
const (
	// FindingsPrefix prefixes the per-request findings keys.
	FindingsPrefix = "findings_"

	// QueueSizeKey holds the most recent host queue depth.
	QueueSizeKey = "queueSize"
)

// FindingsKey returns the key holding the findings for one request id.
func FindingsKey(requestID string) string {
	return FindingsPrefix + requestID
}

// IsFindingsKey reports whether key belongs to the findings family.
func IsFindingsKey(key string) bool {
	return strings.HasPrefix(key, FindingsPrefix)
}

// Entry is one stored key with its raw JSON value.
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store persists JSON values under string keys. Writes are last-write-wins
// per key. Nothing is ever deleted.
type Store interface {
	// Put marshals value and stores it under key, replacing any previous value.
	Put(ctx context.Context, key string, value any) error

	// Get unmarshals the value stored under key into dst. It reports false
	// when the key does not exist.
	Get(ctx context.Context, key string, dst any) (bool, error)

	// List returns every entry whose key starts with prefix, ordered by key.
	// An empty prefix lists everything.
	List(ctx context.Context, prefix string) ([]Entry, error)

	Close() error
}
