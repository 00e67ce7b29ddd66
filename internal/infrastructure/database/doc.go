// Package database provides SQLite connectivity for PropertyHub Core.
//
// This package manages:
//   - The database connection, WAL mode and busy timeout
//   - Embedded schema migrations (up/down pairs, one transaction each)
//   - WithTx, used by repositories to make each event's writes atomic
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
