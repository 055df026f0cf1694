// Package repository selects a visit store backend from the connection
// string, the same way each service variant used to hard-code one.
package repository

import (
	"strings"

	"github.com/kevinmcaleer/page-count/pkg/adapters/repository/postgres"
	"github.com/kevinmcaleer/page-count/pkg/adapters/repository/sqlite"
	"github.com/kevinmcaleer/page-count/pkg/ports"
)

// Open picks the backend from the DSN: postgres:// (or postgresql://) for the
// client-server store, libsql://wss:// for Turso, anything else for embedded
// SQLite.
func Open(dbURL string) (ports.VisitRepository, error) {
	if strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://") {
		return postgres.NewPostgresRepository(dbURL)
	}
	return sqlite.NewSQLiteRepository(dbURL)
}
