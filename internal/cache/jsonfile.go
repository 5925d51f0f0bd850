package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"moonlight/internal/domain"
)

const (
	cacheFilePerm = 0o644
	cacheDirPerm  = 0o755
)

// JSONFile stores the cache as a single JSON object keyed by feed name.
type JSONFile struct {
	path string
	log  *slog.Logger
}

func NewJSONFile(path string, log *slog.Logger) *JSONFile {
	return &JSONFile{path: path, log: log}
}

func (j *JSONFile) Load(ctx context.Context) (map[string]domain.CacheEntry, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]domain.CacheEntry{}, nil
		}

		return nil, fmt.Errorf("read cache file: %w", err)
	}

	j.log.InfoContext(ctx, "Cache file is found",
		"path", j.path)

	entries := map[string]domain.CacheEntry{}
	if err = json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode cache file (path = %s): %w", j.path, err)
	}

	return entries, nil
}

func (j *JSONFile) Save(ctx context.Context, entries map[string]domain.CacheEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	dir := filepath.Dir(j.path)
	if err = os.MkdirAll(dir, cacheDirPerm); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(j.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write cache file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close cache file: %w", err)
	}

	if err = os.Chmod(tmpPath, cacheFilePerm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod cache file: %w", err)
	}

	if err = os.Rename(tmpPath, j.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename cache file: %w", err)
	}

	j.log.InfoContext(ctx, "Writing cache",
		"path", j.path,
		"entryCount", len(entries))

	return nil
}
