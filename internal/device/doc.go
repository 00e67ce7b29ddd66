// Package device stores devices and the telemetry they report.
//
// Devices are keyed by the entity key taken from the broker topic. They are
// upserted just-in-time: the first reading, access event, state report or
// alert for an unknown key creates the row, later ones touch last_seen.
// EnsureTx performs that upsert inside a caller's transaction so the device
// and the appended row commit together. The alert repository uses it too.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//
//	created, err := repo.RecordReadings(ctx, device.Seen{
//	    ID:       "unit-101",
//	    Category: device.CategorySensor,
//	    Scope:    "unit-101",
//	    At:       time.Now(),
//	}, []device.Reading{{Metric: "temperature", Value: 23.5}})
//
// # Thread Safety
//
// SQLiteRepository is safe for concurrent use; SQLite serialises writers.
package device
