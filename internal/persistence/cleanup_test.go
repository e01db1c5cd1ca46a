package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/batterylab/ctigo/internal/cti"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "readings.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestClearDatabase_ClearsAllTables(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	run, err := NewRunRepo(db).Start(ctx, "10.0.0.5:9031", "SN1", time.Now())
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := NewReadingRepo(db).Insert(ctx, run.ID, time.Now(), cti.ChannelStatus{Channel: 1, Status: cti.StatusIdle, State: cti.RunStateIdle}); err != nil {
		t.Fatalf("seed reading: %v", err)
	}

	if err := ClearDatabase(ctx, db); err != nil {
		t.Fatalf("clear database: %v", err)
	}

	for _, table := range []string{"readings", "runs"} {
		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Fatalf("count rows in %s: %v", table, err)
		}
		if count != 0 {
			t.Fatalf("expected %s to be empty after clear, got %d rows", table, count)
		}
	}
}

func TestPruneReadingsRemovesOldRows(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	run, err := NewRunRepo(db).Start(ctx, "host:9031", "", time.Now())
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	repo := NewReadingRepo(db)
	now := time.Now()
	for _, at := range []time.Time{now.Add(-48 * time.Hour), now.Add(-25 * time.Hour), now} {
		if err := repo.Insert(ctx, run.ID, at, cti.ChannelStatus{Channel: 1, State: cti.RunStateIdle}); err != nil {
			t.Fatalf("insert reading: %v", err)
		}
	}

	n, err := PruneReadings(ctx, db, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 pruned rows, got %d", n)
	}
	left, err := repo.CountByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if left != 1 {
		t.Fatalf("expected 1 reading left, got %d", left)
	}
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "readings.db")

	for i := 0; i < 2; i++ {
		db, err := Open(ctx, path)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		var version int
		if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
			t.Fatalf("read version: %v", err)
		}
		if version != len(migrations) {
			t.Fatalf("expected schema version %d, got %d", len(migrations), version)
		}
		_ = db.Close()
	}
}

func TestOpenAppliesConnectionPragmas(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	var foreignKeys, busyTimeout int
	var journal string
	if err := db.QueryRowContext(ctx, `PRAGMA foreign_keys;`).Scan(&foreignKeys); err != nil {
		t.Fatalf("read foreign_keys: %v", err)
	}
	if err := db.QueryRowContext(ctx, `PRAGMA busy_timeout;`).Scan(&busyTimeout); err != nil {
		t.Fatalf("read busy_timeout: %v", err)
	}
	if err := db.QueryRowContext(ctx, `PRAGMA journal_mode;`).Scan(&journal); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if foreignKeys != 1 || busyTimeout != 5000 || journal != "wal" {
		t.Fatalf("expected fk=1 busy=5000 journal=wal, got fk=%d busy=%d journal=%s", foreignKeys, busyTimeout, journal)
	}
}

func TestOpenReportsThePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "readings.db")

	_, err := Open(context.Background(), path)
	if err == nil {
		t.Fatalf("expected open to fail for a missing directory")
	}
	if !strings.Contains(err.Error(), path) {
		t.Fatalf("expected error to name %s, got %v", path, err)
	}
}
