package db

import (
	"database/sql"
	"fmt"

	"github.com/blagoySimandov/arqrender/internal/config"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

// Open returns a bun client for the driver named in cfg.
func Open(cfg *config.Config) (*bun.DB, error) {
	switch cfg.DBDriver {
	case config.DBDriverPostgres:
		return NewBunPostgresClient(cfg.DatabaseURL), nil
	case config.DBDriverSQLite:
		return NewBunSQLiteClient(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}

func NewBunPostgresClient(connectionString string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connectionString)))

	db := bun.NewDB(sqldb, pgdialect.New())

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	return db
}

// NewBunSQLiteClient opens a SQLite database. SQLite allows a single writer,
// so the pool is pinned to one connection; this also keeps ":memory:"
// databases alive for the lifetime of the client.
func NewBunSQLiteClient(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}
