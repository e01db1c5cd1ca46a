package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; user_version records how many ran.
var migrations = []string{
	`CREATE TABLE runs (
		run_id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		serial_number TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		channel INTEGER NOT NULL,
		at INTEGER NOT NULL,
		status INTEGER NOT NULL,
		state TEXT NOT NULL,
		test_name TEXT NOT NULL DEFAULT '',
		schedule TEXT NOT NULL DEFAULT '',
		test_time_ms INTEGER NOT NULL DEFAULT 0,
		step_time_ms INTEGER NOT NULL DEFAULT 0,
		voltage REAL NOT NULL,
		current REAL NOT NULL,
		power REAL NOT NULL,
		charge_capacity REAL NOT NULL,
		discharge_capacity REAL NOT NULL,
		charge_energy REAL NOT NULL,
		discharge_energy REAL NOT NULL,
		internal_resistance REAL NOT NULL,
		aux_json TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX idx_readings_channel_at ON readings(channel, at);`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		if err := applyMigration(ctx, db, i); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, i int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", i+1, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
		return fmt.Errorf("apply migration %d: %w", i+1, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, i+1)); err != nil {
		return fmt.Errorf("bump schema version to %d: %w", i+1, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", i+1, err)
	}

	return nil
}
