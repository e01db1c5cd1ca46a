package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/batterylab/ctigo/internal/cti"
)

// Reading is a stored channel status sample.
type Reading struct {
	ID     int64
	RunID  string
	At     time.Time
	Status cti.ChannelStatus
}

type auxRecord struct {
	Kind  cti.AuxKind `json:"kind"`
	Value float32     `json:"value"`
	DT    float32     `json:"dt"`
}

type ReadingRepo struct {
	db *sql.DB
}

func NewReadingRepo(db *sql.DB) *ReadingRepo {
	return &ReadingRepo{db: db}
}

func (r *ReadingRepo) Insert(ctx context.Context, runID string, at time.Time, st cti.ChannelStatus) error {
	aux, err := encodeAux(st.Aux())
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO readings(run_id, channel, at, status, state, test_name, schedule, test_time_ms, step_time_ms,
			voltage, current, power, charge_capacity, discharge_capacity, charge_energy, discharge_energy,
			internal_resistance, aux_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, st.Channel, epochMillis(at), int(st.Status), string(st.State), st.TestName, st.Schedule,
		st.TestTime.Milliseconds(), st.StepTime.Milliseconds(),
		st.Voltage, st.Current, st.Power, st.ChargeCapacity, st.DischargeCapacity, st.ChargeEnergy, st.DischargeEnergy,
		st.InternalResistance, aux)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}

	return nil
}

// ListByChannel returns the newest readings for a channel first.
func (r *ReadingRepo) ListByChannel(ctx context.Context, channel, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, channel, at, status, state, test_name, schedule, test_time_ms, step_time_ms,
			voltage, current, power, charge_capacity, discharge_capacity, charge_energy, discharge_energy,
			internal_resistance, aux_json
		FROM readings
		WHERE channel = ?
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	out := make([]Reading, 0)
	for rows.Next() {
		var (
			rd      Reading
			atMs    int64
			status  int
			state   string
			testMs  int64
			stepMs  int64
			auxJSON string
		)
		st := &rd.Status
		if err := rows.Scan(&rd.ID, &rd.RunID, &st.Channel, &atMs, &status, &state, &st.TestName, &st.Schedule,
			&testMs, &stepMs, &st.Voltage, &st.Current, &st.Power, &st.ChargeCapacity, &st.DischargeCapacity,
			&st.ChargeEnergy, &st.DischargeEnergy, &st.InternalResistance, &auxJSON); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		rd.At = epochTime(atMs)
		st.Status = cti.StatusCode(status)
		st.State = cti.RunState(state)
		st.TestTime = elapsed(testMs)
		st.StepTime = elapsed(stepMs)
		aux, err := decodeAux(auxJSON)
		if err != nil {
			return nil, err
		}
		rd.Status = rd.Status.WithAux(aux...)
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}

	return out, nil
}

func (r *ReadingRepo) CountByRun(ctx context.Context, runID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}

	return n, nil
}

// Row instants are Unix milliseconds where 0 means unset, so an unfinished
// run reads back with a zero FinishedAt.
func epochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixMilli()
}

func epochTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms)
}

// elapsed decodes the test_time_ms and step_time_ms columns. Sub-millisecond
// parts of the reported seconds are not stored.
func elapsed(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func encodeAux(readings []cti.AuxReading) (string, error) {
	recs := make([]auxRecord, 0, len(readings))
	for _, a := range readings {
		recs = append(recs, auxRecord{Kind: a.Kind, Value: a.Value, DT: a.DT})
	}
	raw, err := json.Marshal(recs)
	if err != nil {
		return "", fmt.Errorf("encode aux readings: %w", err)
	}

	return string(raw), nil
}

func decodeAux(raw string) ([]cti.AuxReading, error) {
	if raw == "" {
		return nil, nil
	}
	var recs []auxRecord
	if err := json.Unmarshal([]byte(raw), &recs); err != nil {
		return nil, fmt.Errorf("decode aux readings: %w", err)
	}
	out := make([]cti.AuxReading, 0, len(recs))
	for _, rec := range recs {
		out = append(out, cti.AuxReading{Kind: rec.Kind, Value: rec.Value, DT: rec.DT})
	}

	return out, nil
}
