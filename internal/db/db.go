package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrUnavailable wraps every failure to reach or query the data source.
var ErrUnavailable = errors.New("data source unavailable")

// Source is the read-only neighborhood and collection schedule store.
type Source struct {
	db     *sql.DB
	driver string
}

// Open connects to dsn. postgres:// URLs and key=value DSNs use pgx; anything
// else is treated as a SQLite path (optionally prefixed with sqlite:).
func Open(dsn string) (*Source, error) {
	driver, source := driverFor(dsn)
	if driver == driverSQLite && !isMemory(source) {
		if dir := filepath.Dir(source); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		source += "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, err
	}
	switch {
	case driver == driverSQLite && isMemory(source):
		// each connection would get its own empty database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case driver == driverSQLite:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	default:
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	return &Source{db: db, driver: driver}, nil
}

// OpenSeed returns an in-memory SQLite source holding only the built-in seed.
func OpenSeed(ctx context.Context) (*Source, error) {
	s, err := Open("sqlite::memory:")
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Source) Close() error   { return s.db.Close() }
func (s *Source) Driver() string { return s.driver }

func (s *Source) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// EnsureSchema creates and seeds the SQLite tables. Postgres schemas are
// managed outside the simulator, so it only verifies the expected columns.
func (s *Source) EnsureSchema(ctx context.Context) error {
	if s.driver != driverSQLite {
		return s.checkColumns(ctx)
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Source) checkColumns(ctx context.Context) error {
	want := map[string][]string{
		"neighborhoods": {"id", "name", "zone", "lat", "lng", "collection_time", "route_order"},
		"collections":   {"neighborhood_id", "day", "collection_time", "collection_type"},
	}
	for table, cols := range want {
		have, err := hasColumns(ctx, s.db, "public", table, cols...)
		if err != nil {
			return unavailable("inspect "+table, err)
		}
		for _, c := range cols {
			if !have[c] {
				return fmt.Errorf("table %s is missing column %s", table, c)
			}
		}
	}
	return nil
}

// hasColumns checks information_schema for the given columns of schema.table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	q := `SELECT column_name FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2`
	rows, err := db.QueryContext(ctx, q, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	present := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		present[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, c := range cols {
		res[c] = present[strings.ToLower(c)]
	}
	return res, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// rebind turns ? placeholders into $n for Postgres.
func (s *Source) rebind(q string) string {
	if s.driver == driverSQLite {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
