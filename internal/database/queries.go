package database

import (
	"context"
	"fmt"
	"strings"

	"moonlight/internal/domain"
)

// Load returns every stored request cache entry keyed by feed name.
func (d *Database) Load(ctx context.Context) (map[string]domain.CacheEntry, error) {
	query := "select feed_name, etag, config_hash from request_cache"

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", "Load")
		}
	}()

	entries := make(map[string]domain.CacheEntry)
	for rows.Next() {
		var (
			name  string
			entry domain.CacheEntry
		)
		if err = rows.Scan(&name, &entry.ETag, &entry.ConfigHash); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		entries[strings.TrimSpace(name)] = entry
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return entries, nil
}

// Save replaces the stored entries with entries in a single transaction.
func (d *Database) Save(ctx context.Context, entries map[string]domain.CacheEntry) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !isTxDone(rollbackErr) {
			d.log.ErrorContext(ctx, "Failed to rollback tx",
				"error", rollbackErr,
				"operation", "Save")
		}
	}()

	if _, err = tx.ExecContext(ctx, "delete from request_cache"); err != nil {
		return fmt.Errorf("clear request cache: %w", err)
	}

	query := "insert into request_cache (feed_name, etag, config_hash) values (?, ?, ?)"

	for name, entry := range entries {
		if _, err = tx.ExecContext(ctx, query, name, entry.ETag, entry.ConfigHash); err != nil {
			return fmt.Errorf("insert entry (feed = %s): %w", name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
