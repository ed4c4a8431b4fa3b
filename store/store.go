// Package store is the persistence layer backing the orchestrator's
// jobs, raw API responses, keys, policy rules, and alert history. It
// wraps jackc/pgx/v5's database/sql driver with jmoiron/sqlx for
// convenient scanning, and drives embedded pressly/goose/v3 migrations
// on startup.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/trailcast/orchestrator/l3"
)

var logger = l3.Get()

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the database handle every persistence seam in this
// repository is implemented against.
type Store struct {
	DB *sqlx.DB
}

// Open connects to dsn via pgx's database/sql compatibility layer
// (stdlib.GetDefaultDriver) and wraps it in sqlx for Get/Select/
// NamedExec convenience.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return &Store{DB: sqlx.NewDb(db, "pgx")}, nil
}

// Migrate runs all embedded goose migrations up to the latest version.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogAdapter{})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("store: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.DB.DB, "migrations"); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

type gooseLogAdapter struct{}

func (gooseLogAdapter) Fatalf(format string, v ...interface{}) {
	logger.ErrorF(format, v...)
}

func (gooseLogAdapter) Printf(format string, v ...interface{}) {
	logger.InfoF(format, v...)
}
