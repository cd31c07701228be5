// Package migrations compiles the SQL schema into the binary so the
// daemon can migrate its database without shipping loose .sql files.
//
// Importing this package (blank import from cmd/beurerd and tests) is
// what registers the schema with the database package.
package migrations

import (
	"embed"

	"github.com/ptrevors/beurerd/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "."
}
