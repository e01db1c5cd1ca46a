package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run groups the readings of one poller session.
type Run struct {
	ID           string
	Target       string
	SerialNumber string
	StartedAt    time.Time
	FinishedAt   time.Time
}

type RunRepo struct {
	db *sql.DB
}

func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

// Start records a new run with a fresh ID.
func (r *RunRepo) Start(ctx context.Context, target, serial string, at time.Time) (Run, error) {
	run := Run{
		ID:           uuid.NewString(),
		Target:       target,
		SerialNumber: serial,
		StartedAt:    at,
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs(run_id, target, serial_number, started_at)
		VALUES(?, ?, ?, ?)
	`, run.ID, run.Target, run.SerialNumber, epochMillis(run.StartedAt))
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}

	return run, nil
}

func (r *RunRepo) Finish(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE runs SET finished_at = ? WHERE run_id = ?`, epochMillis(at), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", id, sql.ErrNoRows)
	}

	return nil
}

func (r *RunRepo) Get(ctx context.Context, id string) (Run, error) {
	var (
		run        Run
		startedMs  int64
		finishedMs int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT run_id, target, serial_number, started_at, finished_at
		FROM runs WHERE run_id = ?
	`, id).Scan(&run.ID, &run.Target, &run.SerialNumber, &startedMs, &finishedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, err)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	run.StartedAt = epochTime(startedMs)
	run.FinishedAt = epochTime(finishedMs)

	return run, nil
}
