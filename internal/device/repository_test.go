package device

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/database"
	_ "github.com/nerrad567/propertyhub-core/migrations"
)

// setupTestDB opens a migrated SQLite database in a temp directory.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "devices.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return db.DB
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func seenSensor(at time.Time) Seen {
	return Seen{ID: "unit-101", Category: CategorySensor, Scope: "unit-101", At: at}
}

func TestRecordReadings_CreatesDeviceOnce(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	unit := "celsius"
	created, err := repo.RecordReadings(ctx, seenSensor(t0), []Reading{
		{Metric: "temperature", Value: 23.5, Unit: &unit, Topic: "base/sensor/unit-101/temperature"},
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.RecordReadings(ctx, seenSensor(t0.Add(time.Minute)), []Reading{
		{Metric: "temperature", Value: 23.7, Topic: "base/sensor/unit-101/temperature"},
	})
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, 1, countRows(t, db, "SELECT COUNT(*) FROM devices WHERE id = ?", "unit-101"))
	assert.Equal(t, 2, countRows(t, db, "SELECT COUNT(*) FROM readings WHERE device_id = ?", "unit-101"))

	d, err := repo.GetByID(ctx, "unit-101")
	require.NoError(t, err)
	assert.Equal(t, "unit-101", d.Name)
	assert.Equal(t, CategorySensor, d.Category)
	assert.Equal(t, "unit-101", d.Scope)
	assert.True(t, d.Active)
	require.NotNil(t, d.LastSeen)
	assert.True(t, d.LastSeen.Equal(t0.Add(time.Minute)))

	readings, err := repo.ListReadings(ctx, "unit-101", "temperature", 10)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.InDelta(t, 23.7, readings[0].Value, 1e-9, "newest first")
	assert.Nil(t, readings[0].Unit)
	require.NotNil(t, readings[1].Unit)
	assert.Equal(t, "celsius", *readings[1].Unit)
}

func TestRecordReadings_MultipleSamples(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	seen := Seen{ID: "unit-204/thermostat", Category: CategoryClimate, Scope: "unit-204", At: time.Now()}
	readings := []Reading{
		{Metric: "current_temperature", Value: 21, Topic: "t"},
		{Metric: "humidity", Value: 40, Topic: "t"},
	}
	_, err := repo.RecordReadings(context.Background(), seen, readings)
	require.NoError(t, err)

	assert.NotZero(t, readings[0].ID)
	assert.NotZero(t, readings[1].ID)
	assert.Equal(t, "unit-204/thermostat", readings[1].DeviceID)
	assert.Equal(t, 2, countRows(t, db, "SELECT COUNT(*) FROM readings"))
}

func TestRecordAccess(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	actor := "alice"
	seen := Seen{ID: "front-door", Category: CategoryLock, Scope: "front-door", At: time.Now()}

	created, err := repo.RecordAccess(ctx, seen, AccessEvent{EventType: "unlock", Success: false, Topic: "base/lock/front-door"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.RecordAccess(ctx, seen, AccessEvent{EventType: "lock", Success: true, Actor: &actor, Topic: "base/lock/front-door"})
	require.NoError(t, err)
	assert.False(t, created)

	events, err := repo.ListAccessEvents(ctx, "front-door", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	var failed *AccessEvent
	for i := range events {
		if events[i].EventType == "unlock" {
			failed = &events[i]
		}
	}
	require.NotNil(t, failed)
	assert.False(t, failed.Success)
	assert.Nil(t, failed.Actor)
}

func TestRecordState(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	battery := 87.0
	seen := Seen{ID: "cam-2", Category: CategoryCamera, Scope: "unit-101", At: time.Now()}

	created, err := repo.RecordState(ctx, seen, StateUpdate{Active: true, State: "online", BatteryLevel: &battery})
	require.NoError(t, err)
	assert.True(t, created)

	// Offline report without battery keeps the last known battery level.
	created, err = repo.RecordState(ctx, seen, StateUpdate{Active: false, State: "offline"})
	require.NoError(t, err)
	assert.False(t, created)

	d, err := repo.GetByID(ctx, "cam-2")
	require.NoError(t, err)
	assert.False(t, d.Active)
	require.NotNil(t, d.State)
	assert.Equal(t, "offline", *d.State)
	require.NotNil(t, d.BatteryLevel)
	assert.InDelta(t, 87.0, *d.BatteryLevel, 1e-9)
	assert.Nil(t, d.SignalStrength)
}

func TestEnsureTx_RequiresID(t *testing.T) {
	db := setupTestDB(t)

	err := database.WithTx(context.Background(), db, func(tx *sql.Tx) error {
		_, err := EnsureTx(context.Background(), tx, Seen{})
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidDevice)
}

func TestSetActiveAndList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	for _, s := range []Seen{
		{ID: "a", Scope: "unit-1", Category: CategorySensor},
		{ID: "b", Scope: "unit-2", Category: CategorySensor},
	} {
		_, err := repo.RecordReadings(ctx, s, nil)
		require.NoError(t, err)
	}

	require.NoError(t, repo.SetActive(ctx, "a", false))
	assert.ErrorIs(t, repo.SetActive(ctx, "missing", false), ErrDeviceNotFound)

	all, err := repo.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.False(t, all[0].Active)

	scoped, err := repo.List(ctx, "unit-2")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "b", scoped[0].ID)
}

func TestGetByID_NotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	_, err := repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestRecordReadings_RollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	errDisk := errors.New("disk I/O error")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT OR IGNORE INTO devices").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectPrepare("INSERT INTO readings").
		ExpectExec().WillReturnError(errDisk)
	mock.ExpectRollback()

	repo := NewSQLiteRepository(db)
	_, err = repo.RecordReadings(context.Background(), seenSensor(time.Now()), []Reading{{Metric: "temperature", Value: 1}})
	require.ErrorIs(t, err, errDisk)
	assert.NoError(t, mock.ExpectationsWereMet())
}
