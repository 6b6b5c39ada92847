package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/minio/crc64nvme"
	"github.com/rs/zerolog/log"
)

const (
	// DocumentName is the file holding every stored entry.
	DocumentName = "session.json"

	documentVersion = 1
)

// document is the on-disk envelope. Checksum is the CRC64-NVME of the
// compact JSON encoding of Entries.
type document struct {
	Version  int             `json:"version"`
	Checksum uint64          `json:"crc64"`
	Entries  json.RawMessage `json:"entries"`
}

// FileStorage persists entries in a single JSON document on the local filesystem.
type FileStorage struct {
	baseDir string

	mu sync.Mutex
}

// NewFileStorage creates a file-backed storage.
// If baseDir is empty, uses ~/.atendo/
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".atendo")
	}

	// Create directory with 0700 permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	log.Debug().Str("baseDir", baseDir).Msg("file storage initialized")

	return &FileStorage{baseDir: baseDir}, nil
}

// Path returns the location of the backing document.
func (s *FileStorage) Path() string {
	return filepath.Join(s.baseDir, DocumentName)
}

func (s *FileStorage) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return "", err
	}

	value, ok := entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *FileStorage) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

func (s *FileStorage) SetMany(ctx context.Context, entries map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _ := s.loadForWrite()
	for k, v := range entries {
		current[k] = v
	}

	return s.save(current)
}

func (s *FileStorage) Remove(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, corrupt := s.loadForWrite()

	removed := 0
	for _, k := range keys {
		if _, ok := current[k]; ok {
			delete(current, k)
			removed++
		}
	}
	// a corrupt document is rewritten so it cannot be read again
	if removed == 0 && !corrupt {
		return nil
	}

	return s.save(current)
}

// loadForWrite returns the current entries, starting over when the
// document is missing or corrupt so that writes always succeed. corrupt
// reports whether the document on disk was discarded.
func (s *FileStorage) loadForWrite() (entries map[string]string, corrupt bool) {
	entries, err := s.load()
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			log.Warn().Err(err).Str("path", s.Path()).Msg("discarding corrupt storage document")
			corrupt = true
		}
		return make(map[string]string), corrupt
	}
	return entries, false
}

// load reads and verifies the document. A missing document is empty.
func (s *FileStorage) load() (map[string]string, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to read storage: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if doc.Version != documentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, doc.Version)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, doc.Entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if computeCRC64(compact.Bytes()) != doc.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	entries := make(map[string]string)
	if err := json.Unmarshal(compact.Bytes(), &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return entries, nil
}

// save writes the document atomically.
func (s *FileStorage) save(entries map[string]string) error {
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal entries: %w", err)
	}

	data, err := json.Marshal(document{
		Version:  documentVersion,
		Checksum: computeCRC64(payload),
		Entries:  payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal storage: %w", err)
	}

	// Write to temp file first
	path := s.Path()
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write storage: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save storage: %w", err)
	}

	return nil
}

// computeCRC64 computes CRC64-NVME checksum
func computeCRC64(data []byte) uint64 {
	h := crc64nvme.New()
	h.Write(data)
	return h.Sum64()
}
