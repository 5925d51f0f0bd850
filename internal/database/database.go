package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // Required by the library implementation.
)

// Database is the SQLite request cache backend.
type Database struct {
	db  *sql.DB
	log *slog.Logger
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// New opens the cache database at dbPath and brings its schema up to date.
// The handle is closed again when any step fails.
func New(ctx context.Context, dbPath string, log *slog.Logger) (_ *Database, err error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open request cache DB: %w", err)
	}

	defer func() {
		if err == nil {
			return
		}

		if closeErr := db.Close(); closeErr != nil {
			log.ErrorContext(ctx, "Failed to close request cache DB",
				"error", closeErr,
				"dbPath", dbPath)
		}
	}()

	if err = db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connect to request cache DB (path = %s): %w", dbPath, err)
	}

	if err = migrateRequestCache(ctx, db, dbPath, log); err != nil {
		return nil, err
	}

	return &Database{db: db, log: log}, nil
}

func migrateRequestCache(ctx context.Context, db *sql.DB, dbPath string, log *slog.Logger) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("migrate request cache schema: %w", upErr)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.WarnContext(ctx, "Failed to read request cache schema version",
			"error", err,
			"dbPath", dbPath)
	}

	log.InfoContext(ctx, "Request cache schema is ready",
		"dbPath", dbPath,
		"schemaVersion", version,
		"dirty", dirty,
		"migrated", upErr == nil)

	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func isTxDone(err error) bool {
	return errors.Is(err, sql.ErrTxDone)
}
