package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

//goland:noinspection SqlWithoutWhere
var clearDatabaseStatements = []string{
	`DELETE FROM readings;`,
	`DELETE FROM runs;`,
}

func ClearDatabase(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("database is not initialized")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear database tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range clearDatabaseStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear database tables: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear database tx: %w", err)
	}

	return nil
}

// PruneReadings deletes readings older than cutoff and returns how many went.
func PruneReadings(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("database is not initialized")
	}
	res, err := db.ExecContext(ctx, `DELETE FROM readings WHERE at < ?`, epochMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune readings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune readings: %w", err)
	}

	return n, nil
}
