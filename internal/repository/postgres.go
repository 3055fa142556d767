package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/water-flow-monitor/internal/apperr"
	"github.com/septivank/water-flow-monitor/internal/db"
)

const uniqueViolation = "23505"

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// BeginTx starts a new transaction
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const sensorColumns = `id, name, location, max_threshold::float8, created_at`

func scanSensor(row pgx.Row) (*db.Sensor, error) {
	var s db.Sensor
	if err := row.Scan(&s.ID, &s.Name, &s.Location, &s.MaxThreshold, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSensors returns all sensors ordered by id
func (r *Repository) ListSensors(ctx context.Context) ([]db.Sensor, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sensorColumns+` FROM sensors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensors: %w: %w", apperr.ErrTransientIO, err)
	}
	defer rows.Close()

	sensors := make([]db.Sensor, 0)
	for rows.Next() {
		s, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor: %w", err)
		}
		sensors = append(sensors, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w: %w", apperr.ErrTransientIO, err)
	}
	return sensors, nil
}

// GetSensor returns one sensor
func (r *Repository) GetSensor(ctx context.Context, id int64) (*db.Sensor, error) {
	s, err := scanSensor(r.pool.QueryRow(ctx, `SELECT `+sensorColumns+` FROM sensors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sensor %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor: %w: %w", apperr.ErrTransientIO, err)
	}
	return s, nil
}

// UpdateSensorThreshold sets the max threshold of one sensor
func (r *Repository) UpdateSensorThreshold(ctx context.Context, id int64, maxThreshold float64) (*db.Sensor, error) {
	return updateSensorThreshold(ctx, r.pool, id, maxThreshold)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func updateSensorThreshold(ctx context.Context, q querier, id int64, maxThreshold float64) (*db.Sensor, error) {
	query := `
		UPDATE sensors
		SET max_threshold = $1
		WHERE id = $2
		RETURNING ` + sensorColumns

	s, err := scanSensor(q.QueryRow(ctx, query, maxThreshold, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sensor %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update sensor threshold: %w: %w", apperr.ErrTransientIO, err)
	}
	return s, nil
}

// InsertReading appends a flow reading
func (r *Repository) InsertReading(ctx context.Context, sensorID int64, flowRate float64, at time.Time) (*db.Reading, error) {
	query := `
		INSERT INTO sensor_readings (sensor_id, flow_rate, timestamp)
		VALUES ($1, $2, $3)
		RETURNING id, sensor_id, flow_rate::float8, timestamp
	`

	var reading db.Reading
	err := r.pool.QueryRow(ctx, query, sensorID, flowRate, at).Scan(
		&reading.ID,
		&reading.SensorID,
		&reading.FlowRate,
		&reading.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert reading: %w: %w", apperr.ErrTransientIO, err)
	}
	return &reading, nil
}

// ListReadings returns readings with from <= timestamp <= to, oldest first
func (r *Repository) ListReadings(ctx context.Context, from, to time.Time) ([]db.Reading, error) {
	query := `
		SELECT id, sensor_id, flow_rate::float8, timestamp
		FROM sensor_readings
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp, id
	`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w: %w", apperr.ErrTransientIO, err)
	}
	defer rows.Close()

	readings := make([]db.Reading, 0)
	for rows.Next() {
		var reading db.Reading
		if err := rows.Scan(&reading.ID, &reading.SensorID, &reading.FlowRate, &reading.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w: %w", apperr.ErrTransientIO, err)
	}
	return readings, nil
}

const leakColumns = `id, sensor_id, detected_at, resolved_at, severity, status, flow_rate::float8, resolved_by`

func scanLeak(row pgx.Row) (*db.LeakEvent, error) {
	var e db.LeakEvent
	err := row.Scan(
		&e.ID,
		&e.SensorID,
		&e.DetectedAt,
		&e.ResolvedAt,
		&e.Severity,
		&e.Status,
		&e.FlowRate,
		&e.ResolvedBy,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindPendingLeak returns the open event of a sensor, or nil
func (r *Repository) FindPendingLeak(ctx context.Context, sensorID int64) (*db.LeakEvent, error) {
	query := `SELECT ` + leakColumns + ` FROM leak_events WHERE sensor_id = $1 AND status = 'pending'`
	e, err := scanLeak(r.pool.QueryRow(ctx, query, sensorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pending leak: %w: %w", apperr.ErrTransientIO, err)
	}
	return e, nil
}

// LatestPendingLeak returns the most recently detected open event, or nil
func (r *Repository) LatestPendingLeak(ctx context.Context) (*db.LeakEvent, error) {
	query := `SELECT ` + leakColumns + ` FROM leak_events WHERE status = 'pending' ORDER BY detected_at DESC, id DESC LIMIT 1`
	e, err := scanLeak(r.pool.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest pending leak: %w: %w", apperr.ErrTransientIO, err)
	}
	return e, nil
}

// InsertLeakEvent stores a pending event. The partial unique index on
// leak_events rejects a second pending row for the same sensor.
func (r *Repository) InsertLeakEvent(ctx context.Context, event *db.LeakEvent) error {
	query := `
		INSERT INTO leak_events (sensor_id, detected_at, severity, status, flow_rate)
		VALUES ($1, $2, $3, 'pending', $4)
		RETURNING ` + leakColumns

	stored, err := scanLeak(r.pool.QueryRow(ctx, query, event.SensorID, event.DetectedAt, event.Severity, event.FlowRate))
	if err != nil {
		return leakInsertError(event.SensorID, err)
	}
	*event = *stored
	return nil
}

func leakInsertError(sensorID int64, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("sensor %d already has a pending leak event: %w", sensorID, apperr.ErrConflict)
	}
	return fmt.Errorf("failed to insert leak event: %w: %w", apperr.ErrTransientIO, err)
}

// GetLeakEvent returns one event by id
func (r *Repository) GetLeakEvent(ctx context.Context, id int64) (*db.LeakEvent, error) {
	e, err := scanLeak(r.pool.QueryRow(ctx, `SELECT `+leakColumns+` FROM leak_events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("leak event %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query leak event: %w: %w", apperr.ErrTransientIO, err)
	}
	return e, nil
}

// MarkLeakResolved resolves a pending event. The status guard in the update
// keeps resolvedAt and resolvedBy from being overwritten.
func (r *Repository) MarkLeakResolved(ctx context.Context, id int64, at time.Time, actor *string) (*db.LeakEvent, error) {
	query := `
		UPDATE leak_events
		SET status = 'resolved', resolved_at = $1, resolved_by = $2
		WHERE id = $3 AND status = 'pending'
		RETURNING ` + leakColumns

	e, err := scanLeak(r.pool.QueryRow(ctx, query, at, actor, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return r.GetLeakEvent(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve leak event: %w: %w", apperr.ErrTransientIO, err)
	}
	return e, nil
}

// ListLeakEvents returns all events, newest first
func (r *Repository) ListLeakEvents(ctx context.Context) ([]db.LeakEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+leakColumns+` FROM leak_events ORDER BY detected_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query leak events: %w: %w", apperr.ErrTransientIO, err)
	}
	defer rows.Close()

	events := make([]db.LeakEvent, 0)
	for rows.Next() {
		e, err := scanLeak(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leak event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w: %w", apperr.ErrTransientIO, err)
	}
	return events, nil
}

// CurrentValveState returns the latest valve row, or nil
func (r *Repository) CurrentValveState(ctx context.Context) (*db.ValveState, error) {
	query := `
		SELECT id, is_open, changed_by, timestamp
		FROM valve_status
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`

	var v db.ValveState
	err := r.pool.QueryRow(ctx, query).Scan(&v.ID, &v.IsOpen, &v.ChangedBy, &v.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query valve status: %w: %w", apperr.ErrTransientIO, err)
	}
	return &v, nil
}

// InsertValveState appends a valve row
func (r *Repository) InsertValveState(ctx context.Context, isOpen bool, actor *string) (*db.ValveState, error) {
	query := `
		INSERT INTO valve_status (is_open, changed_by, timestamp)
		VALUES ($1, $2, now())
		RETURNING id, is_open, changed_by, timestamp
	`

	var v db.ValveState
	if err := r.pool.QueryRow(ctx, query, isOpen, actor).Scan(&v.ID, &v.IsOpen, &v.ChangedBy, &v.Timestamp); err != nil {
		return nil, fmt.Errorf("failed to insert valve status: %w: %w", apperr.ErrTransientIO, err)
	}
	return &v, nil
}

const settingsColumns = `id, continuous_flow_threshold, night_flow_monitoring, updated_at, updated_by`

func scanSettings(row pgx.Row) (*db.SystemSettings, error) {
	var s db.SystemSettings
	if err := row.Scan(&s.ID, &s.ContinuousFlowThreshold, &s.NightFlowMonitoring, &s.UpdatedAt, &s.UpdatedBy); err != nil {
		return nil, err
	}
	return &s, nil
}

// CurrentSettings returns the latest settings row, or nil
func (r *Repository) CurrentSettings(ctx context.Context) (*db.SystemSettings, error) {
	query := `SELECT ` + settingsColumns + ` FROM system_settings ORDER BY updated_at DESC, id DESC LIMIT 1`
	s, err := scanSettings(r.pool.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w: %w", apperr.ErrTransientIO, err)
	}
	return s, nil
}

// InsertSettings appends a settings row
func (r *Repository) InsertSettings(ctx context.Context, continuousFlow int, nightFlow bool, actor *string) (*db.SystemSettings, error) {
	return insertSettings(ctx, r.pool, continuousFlow, nightFlow, actor)
}

func insertSettings(ctx context.Context, q querier, continuousFlow int, nightFlow bool, actor *string) (*db.SystemSettings, error) {
	query := `
		INSERT INTO system_settings (continuous_flow_threshold, night_flow_monitoring, updated_at, updated_by)
		VALUES ($1, $2, now(), $3)
		RETURNING ` + settingsColumns

	s, err := scanSettings(q.QueryRow(ctx, query, continuousFlow, nightFlow, actor))
	if err != nil {
		return nil, fmt.Errorf("failed to insert settings: %w: %w", apperr.ErrTransientIO, err)
	}
	return s, nil
}

// ApplyThresholds updates sensor thresholds and appends a settings row in one
// transaction. Any unknown sensor rolls the whole batch back.
func (r *Repository) ApplyThresholds(ctx context.Context, thresholds []db.SensorThreshold, continuousFlow int, nightFlow bool, actor *string) ([]db.Sensor, *db.SystemSettings, error) {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w: %w", apperr.ErrTransientIO, err)
	}
	defer tx.Rollback(ctx)

	updated := make([]db.Sensor, 0, len(thresholds))
	for _, t := range thresholds {
		s, err := updateSensorThreshold(ctx, tx, t.SensorID, t.MaxThreshold)
		if err != nil {
			return nil, nil, err
		}
		updated = append(updated, *s)
	}

	settings, err := insertSettings(ctx, tx, continuousFlow, nightFlow, actor)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w: %w", apperr.ErrTransientIO, err)
	}
	return updated, settings, nil
}

// Seed provisions sensors, an open valve and default settings when the
// sensors table is empty
func (r *Repository) Seed(ctx context.Context, seed Seed) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM sensors`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count sensors: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, s := range seed.Sensors {
		_, err := tx.Exec(ctx, `INSERT INTO sensors (name, location, max_threshold) VALUES ($1, $2, $3)`,
			s.Name, s.Location, s.MaxThreshold)
		if err != nil {
			return fmt.Errorf("failed to seed sensor %q: %w", s.Name, err)
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO valve_status (is_open) VALUES (TRUE)`); err != nil {
		return fmt.Errorf("failed to seed valve status: %w", err)
	}
	if _, err := insertSettings(ctx, tx, seed.ContinuousFlowThreshold, seed.NightFlowMonitoring, nil); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
