package storage

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Nop is the fallback used when no durable storage is available.
// Reads find nothing and writes are discarded.
type Nop struct{}

func (Nop) Get(ctx context.Context, key string) (string, error) { return "", ErrNotFound }

func (Nop) Set(ctx context.Context, key, value string) error { return nil }

func (Nop) SetMany(ctx context.Context, entries map[string]string) error { return nil }

func (Nop) Remove(ctx context.Context, keys ...string) error { return nil }

// OpenOrNop opens file storage in baseDir, falling back to Nop when the
// directory cannot be used. The session then lives only for this process.
func OpenOrNop(baseDir string) Storage {
	fs, err := NewFileStorage(baseDir)
	if err != nil {
		log.Warn().Err(err).Str("baseDir", baseDir).Msg("durable storage unavailable, session will not persist")
		return Nop{}
	}
	return fs
}
