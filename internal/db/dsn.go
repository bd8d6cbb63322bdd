package db

import "strings"

const (
	driverPostgres = "pgx"
	driverSQLite   = "sqlite"
)

// driverFor picks the database/sql driver for dsn and strips any sqlite:
// prefix from the returned source.
func driverFor(dsn string) (driver, source string) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return driverPostgres, dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		return driverSQLite, strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "sqlite:"):
		return driverSQLite, strings.TrimPrefix(dsn, "sqlite:")
	case strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname="):
		return driverPostgres, dsn
	}
	return driverSQLite, dsn
}

func isMemory(source string) bool {
	return source == ":memory:" || strings.HasPrefix(source, "file::memory:")
}
