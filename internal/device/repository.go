package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/database"
)

// defaultListLimit caps history queries when the caller passes no limit.
const defaultListLimit = 100

// Repository defines device persistence operations.
type Repository interface {
	// GetByID retrieves a device by its entity key.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices, optionally only those in scope.
	List(ctx context.Context, scope string) ([]Device, error)

	// RecordReadings upserts the device and appends readings in one transaction.
	RecordReadings(ctx context.Context, seen Seen, readings []Reading) (created bool, err error)

	// RecordAccess upserts the device and appends an access event in one transaction.
	RecordAccess(ctx context.Context, seen Seen, ev AccessEvent) (created bool, err error)

	// RecordState upserts the device and applies a state report in one transaction.
	RecordState(ctx context.Context, seen Seen, upd StateUpdate) (created bool, err error)

	// SetActive marks a device active or inactive. Devices are never deleted.
	SetActive(ctx context.Context, id string, active bool) error

	// ListReadings returns the newest readings for a device, newest first.
	ListReadings(ctx context.Context, deviceID, metric string, limit int) ([]Reading, error)

	// ListAccessEvents returns the newest access events for a device, newest first.
	ListAccessEvents(ctx context.Context, deviceID string, limit int) ([]AccessEvent, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// EnsureTx creates the device described by seen if it does not exist, and
// otherwise touches last_seen. It reports whether the row was created.
func EnsureTx(ctx context.Context, tx *sql.Tx, seen Seen) (bool, error) {
	if seen.ID == "" {
		return false, ErrInvalidDevice
	}
	name := seen.Name
	if name == "" {
		name = seen.ID
	}
	category := seen.Category
	if category == "" {
		category = CategoryUnknown
	}
	at := seen.At
	if at.IsZero() {
		at = time.Now()
	}
	ts := database.FormatTime(at)
	now := database.FormatTime(time.Now())

	result, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO devices (id, name, category, scope, active, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)`,
		seen.ID, name, string(category), seen.Scope, ts, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("inserting device: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if inserted == 1 {
		return true, nil
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE devices SET last_seen = ?, updated_at = ? WHERE id = ?",
		ts, now, seen.ID,
	); err != nil {
		return false, fmt.Errorf("touching device: %w", err)
	}
	return false, nil
}

// RecordReadings upserts the device and appends one row per reading.
func (r *SQLiteRepository) RecordReadings(ctx context.Context, seen Seen, readings []Reading) (bool, error) {
	if seen.At.IsZero() {
		seen.At = time.Now()
	}
	var created bool
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		if created, err = EnsureTx(ctx, tx, seen); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO readings (device_id, metric, value, unit, topic, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing reading insert: %w", err)
		}
		defer stmt.Close()

		for i := range readings {
			rd := &readings[i]
			rd.DeviceID = seen.ID
			if rd.RecordedAt.IsZero() {
				rd.RecordedAt = seen.At
			}
			result, err := stmt.ExecContext(ctx,
				rd.DeviceID, rd.Metric, rd.Value, database.NullString(rd.Unit), rd.Topic,
				database.FormatTime(rd.RecordedAt),
			)
			if err != nil {
				return fmt.Errorf("inserting reading %s: %w", rd.Metric, err)
			}
			if rd.ID, err = result.LastInsertId(); err != nil {
				return fmt.Errorf("reading insert id: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// RecordAccess upserts the device and appends the access event.
func (r *SQLiteRepository) RecordAccess(ctx context.Context, seen Seen, ev AccessEvent) (bool, error) {
	if seen.At.IsZero() {
		seen.At = time.Now()
	}
	var created bool
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		if created, err = EnsureTx(ctx, tx, seen); err != nil {
			return err
		}
		if ev.RecordedAt.IsZero() {
			ev.RecordedAt = seen.At
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO access_events (device_id, event_type, success, actor, credential, topic, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			seen.ID, ev.EventType, ev.Success,
			database.NullString(ev.Actor), database.NullString(ev.Credential),
			ev.Topic, database.FormatTime(ev.RecordedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting access event: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// RecordState upserts the device and applies the reported state.
func (r *SQLiteRepository) RecordState(ctx context.Context, seen Seen, upd StateUpdate) (bool, error) {
	var created bool
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		if created, err = EnsureTx(ctx, tx, seen); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE devices
			SET active = ?, state = ?,
				battery_level = COALESCE(?, battery_level),
				signal_strength = COALESCE(?, signal_strength),
				updated_at = ?
			WHERE id = ?`,
			upd.Active, upd.State,
			database.NullFloat(upd.BatteryLevel), database.NullFloat(upd.SignalStrength),
			database.FormatTime(time.Now()), seen.ID,
		)
		if err != nil {
			return fmt.Errorf("updating device state: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// SetActive marks a device active or inactive.
func (r *SQLiteRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET active = ?, updated_at = ? WHERE id = ?",
		active, database.FormatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating device active flag: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

const deviceColumns = `id, name, category, scope, active, last_seen, battery_level,
	signal_strength, state, created_at, updated_at`

// GetByID retrieves a device by its entity key.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// List retrieves all devices ordered by ID. A non-empty scope filters by scope.
func (r *SQLiteRepository) List(ctx context.Context, scope string) ([]Device, error) {
	query := "SELECT " + deviceColumns + " FROM devices"
	var args []any
	if scope != "" {
		query += " WHERE scope = ?"
		args = append(args, scope)
	}
	query += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// ListReadings returns the newest readings for a device. A non-empty metric
// filters by metric name.
func (r *SQLiteRepository) ListReadings(ctx context.Context, deviceID, metric string, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT id, device_id, metric, value, unit, topic, recorded_at
		FROM readings WHERE device_id = ?`
	args := []any{deviceID}
	if metric != "" {
		query += " AND metric = ?"
		args = append(args, metric)
	}
	query += " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var rd Reading
		var unit sql.NullString
		var recordedAt string
		if err := rows.Scan(&rd.ID, &rd.DeviceID, &rd.Metric, &rd.Value, &unit, &rd.Topic, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		rd.Unit = database.StringPtr(unit)
		if rd.RecordedAt, err = database.ParseTime(recordedAt); err != nil {
			return nil, err
		}
		readings = append(readings, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

// ListAccessEvents returns the newest access events for a device.
func (r *SQLiteRepository) ListAccessEvents(ctx context.Context, deviceID string, limit int) ([]AccessEvent, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, event_type, success, actor, credential, topic, recorded_at
		FROM access_events WHERE device_id = ?
		ORDER BY recorded_at DESC, id DESC LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying access events: %w", err)
	}
	defer rows.Close()

	var events []AccessEvent
	for rows.Next() {
		var ev AccessEvent
		var actor, credential sql.NullString
		var recordedAt string
		if err := rows.Scan(&ev.ID, &ev.DeviceID, &ev.EventType, &ev.Success,
			&actor, &credential, &ev.Topic, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning access event: %w", err)
		}
		ev.Actor = database.StringPtr(actor)
		ev.Credential = database.StringPtr(credential)
		if ev.RecordedAt, err = database.ParseTime(recordedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating access events: %w", err)
	}
	return events, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var category, createdAt, updatedAt string
	var lastSeen, state sql.NullString
	var battery, signal sql.NullFloat64

	if err := row.Scan(&d.ID, &d.Name, &category, &d.Scope, &d.Active, &lastSeen,
		&battery, &signal, &state, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	d.Category = Category(category)
	d.BatteryLevel = database.FloatPtr(battery)
	d.SignalStrength = database.FloatPtr(signal)
	d.State = database.StringPtr(state)

	var err error
	if d.LastSeen, err = database.ParseNullTime(lastSeen); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
