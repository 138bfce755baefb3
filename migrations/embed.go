// Package migrations embeds the SQL migration files into the binary so
// the journal schema can be applied without shipping loose .sql files.
package migrations

import (
	"embed"

	"github.com/foxace/ajax-sync-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
