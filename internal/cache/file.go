package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nulpointcorp/llm-router/internal/policy"
)

// FileStore keeps one JSON file per entry under the configured cache
// directory, fanned out by the first two characters of the key.
//
// It is constructed per request from the current cache settings, so config
// changes (directory, TTL, enablement) take effect immediately.
type FileStore struct {
	cfg policy.CacheConfig
}

// NewFileStore returns a file-backed store for the given settings.
func NewFileStore(cfg policy.CacheConfig) *FileStore {
	return &FileStore{cfg: cfg}
}

// FileFactory returns a Factory producing file-backed stores.
func FileFactory() Factory {
	return func(cfg policy.CacheConfig) Store { return NewFileStore(cfg) }
}

// entryPath fans entries out into two-character prefix directories to keep
// any single directory small.
func (s *FileStore) entryPath(key string) string {
	prefix := key
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(s.cfg.CacheDir, prefix, key+".json")
}

// Get reads and validates the entry for key. Entries older than the TTL
// are removed opportunistically and reported as a miss.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool) {
	if !s.cfg.Enabled {
		return nil, false
	}

	path := s.entryPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}

	if time.Now().Unix()-entry.CachedAt > int64(s.cfg.TTLSeconds) {
		_ = os.Remove(path)
		return nil, false
	}

	return entry.ResponseBody, true
}

// Set writes the entry for key, creating parent directories as needed.
// Write failures are logged and absorbed.
func (s *FileStore) Set(ctx context.Context, key, model string, responseBody []byte) error {
	if !s.cfg.Enabled {
		return nil
	}

	entry := Entry{
		CachedAt:     time.Now().Unix(),
		Model:        model,
		ResponseBody: responseBody,
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.WarnContext(ctx, "cache_set_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil
	}

	path := s.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.WarnContext(ctx, "cache_set_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.WarnContext(ctx, "cache_set_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	return nil
}
