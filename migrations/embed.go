// Package migrations embeds SQL migration files into the binary.
//
// Importing this package registers the files with the database package, so
// `propertyhub migrate` and `serve` work without SQL files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
