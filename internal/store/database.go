package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/lib/pq"

	"github.com/rahul/querypilot/internal/dialect"
	"github.com/rahul/querypilot/internal/resolver"
	"github.com/rahul/querypilot/pkg/config"
)

// Database is an opened backing store with the dialect and placeholder
// style its driver expects.
type Database struct {
	DB      *sql.DB
	Dialect string
	Style   resolver.Style
}

type driverInfo struct {
	name    string
	dialect string
	style   resolver.Style
}

// The duckdb driver needs cgo and is registered by the binary, not here.
var drivers = map[string]driverInfo{
	dialect.SQLite:     {name: "sqlite", dialect: dialect.SQLite, style: resolver.StyleNamed},
	dialect.PostgreSQL: {name: "postgres", dialect: dialect.PostgreSQL, style: resolver.StyleDollar},
	dialect.DuckDB:     {name: "duckdb", dialect: dialect.DuckDB, style: resolver.StyleQuestion},
}

// Open connects to the configured database and verifies it is reachable.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	drv, ok := drivers[dialect.Normalize(cfg.Type)]
	if !ok {
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	dsn := cfg.Path
	if drv.dialect == dialect.PostgreSQL {
		dsn = cfg.DSN
	}

	db, err := sql.Open(drv.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", drv.dialect, err)
	}
	if drv.dialect == dialect.PostgreSQL {
		db.SetConnMaxIdleTime(5 * time.Minute)
	} else {
		// Embedded engines serialize writers; one connection keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", drv.dialect, err)
	}

	return &Database{DB: db, Dialect: drv.dialect, Style: drv.style}, nil
}

// Wrap adopts an already opened handle.
func Wrap(db *sql.DB, dialectName string) (*Database, error) {
	drv, ok := drivers[dialect.Normalize(dialectName)]
	if !ok {
		return nil, fmt.Errorf("unsupported database type %q", dialectName)
	}
	return &Database{DB: db, Dialect: drv.dialect, Style: drv.style}, nil
}

func (d *Database) Close() error {
	return d.DB.Close()
}
