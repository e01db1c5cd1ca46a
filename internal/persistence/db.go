package persistence

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register sqlite driver
)

// connPragmas are applied to the single pooled connection before migrations.
var connPragmas = []struct {
	stmt string
	what string
}{
	{`PRAGMA foreign_keys = ON;`, "enable foreign keys"},
	{`PRAGMA journal_mode = WAL;`, "set wal mode"},
	// The CLI prune and a running recorder may share a file.
	{`PRAGMA busy_timeout = 5000;`, "set busy timeout"},
}

// Open opens the readings database at path and brings its schema current.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open readings db %s: %w", path, err)
	}
	// Pragmas are per connection, and the writer queue expects one writer.
	db.SetMaxOpenConns(1)

	if err := prepare(ctx, db); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("readings db %s: %w", path, err)
	}

	return db, nil
}

func prepare(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	for _, p := range connPragmas {
		if _, err := db.ExecContext(ctx, p.stmt); err != nil {
			return fmt.Errorf("%s: %w", p.what, err)
		}
	}

	return migrate(ctx, db)
}
