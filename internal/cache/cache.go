// Package cache tracks per-feed conditional request tokens across runs.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/samber/lo"

	"moonlight/internal/domain"
)

// Backend persists the whole cache map at once.
type Backend interface {
	Load(ctx context.Context) (map[string]domain.CacheEntry, error)
	Save(ctx context.Context, entries map[string]domain.CacheEntry) error
}

type Cache struct {
	backend Backend
	enabled bool
	loaded  map[string]domain.CacheEntry
	entries map[string]domain.CacheEntry
	log     *slog.Logger
}

// Open loads the stored entries when enabled and keeps those of the feeds
// named in feedNames. Entries of feeds that are no longer configured are
// dropped, which marks the cache dirty.
func Open(
	ctx context.Context,
	backend Backend,
	enabled bool,
	feedNames []string,
	log *slog.Logger,
) (*Cache, error) {
	loaded := map[string]domain.CacheEntry{}

	if enabled {
		stored, err := backend.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load cache: %w", err)
		}
		if stored != nil {
			loaded = stored
		}

		log.InfoContext(ctx, "Request cache is loaded",
			"entryCount", len(loaded))
	}

	entries := make(map[string]domain.CacheEntry, len(feedNames))
	for _, name := range feedNames {
		if entry, ok := loaded[name]; ok {
			entries[name] = entry
		}
	}

	return &Cache{
		backend: backend,
		enabled: enabled,
		loaded:  loaded,
		entries: entries,
		log:     log,
	}, nil
}

func (c *Cache) Enabled() bool {
	return c.enabled
}

// ETag returns the conditional token recorded for the feed, if any.
func (c *Cache) ETag(name string) string {
	return c.entries[name].ETag
}

func (c *Cache) Entry(name string) (domain.CacheEntry, bool) {
	entry, ok := c.entries[name]
	return entry, ok
}

// Update refreshes one feed's entry. An empty ETag keeps the previous token.
func (c *Cache) Update(name string, entry domain.CacheEntry) {
	if entry.ETag == "" {
		entry.ETag = c.entries[name].ETag
	}

	c.entries[name] = entry
}

func (c *Cache) Dirty() bool {
	return !maps.Equal(c.loaded, c.entries)
}

// Persist saves the entries once when caching is enabled and something
// changed since Open. It reports whether a write happened.
func (c *Cache) Persist(ctx context.Context) (bool, error) {
	if !c.enabled || !c.Dirty() {
		return false, nil
	}

	if err := c.backend.Save(ctx, maps.Clone(c.entries)); err != nil {
		return false, fmt.Errorf("save cache: %w", err)
	}

	names := lo.Keys(c.entries)
	slices.Sort(names)

	c.log.InfoContext(ctx, "Request cache is written",
		"entryCount", len(c.entries),
		"feeds", names)

	c.loaded = maps.Clone(c.entries)

	return true, nil
}
