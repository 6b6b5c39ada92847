package storage

import (
	"context"
	"errors"
)

// Sentinel errors
var (
	// ErrNotFound is returned when a key has no stored value.
	ErrNotFound = errors.New("key not found")

	// ErrCorrupt is returned when the persisted document fails its checksum or cannot be parsed.
	ErrCorrupt = errors.New("storage corrupt")
)

// Storage is a durable string key-value surface used to survive process restarts.
//
// Values are replaced whole; there are no partial updates. SetMany writes all
// entries in one step so related keys never disagree after an interruption.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetMany(ctx context.Context, entries map[string]string) error
	Remove(ctx context.Context, keys ...string) error
}
