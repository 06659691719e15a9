// Package db opens the relational backend for the entity store. The
// dialect is chosen by configuration: a SQLite file under the state
// directory by default, or PostgreSQL when DATABASE_URL points at one.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agor-sh/agor/internal/common/config"
)

// Driver names as registered with database/sql.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

const (
	busyTimeout = 5 * time.Second

	// SQLite WAL mode allows many readers alongside the single writer.
	sqliteReaderConns = 4
)

// Pool provides separate read and write connections.
//
// For SQLite with WAL mode this enables concurrent reads while
// serializing writes through a single connection. For PostgreSQL both
// sides are the same *sqlx.DB since pgx pools internally.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// Writer returns the pool used for mutations and transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the pool used for SELECT queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Driver returns the underlying driver name.
func (p *Pool) Driver() string { return p.writer.DriverName() }

// IsPostgres reports whether the pool talks to PostgreSQL.
func (p *Pool) IsPostgres() bool { return p.Driver() == DriverPostgres }

// Close closes both pools.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	// The two sides share one *sqlx.DB on Postgres.
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}

// Open opens the database described by cfg and returns a ready pool.
func Open(cfg config.DatabaseConfig) (*Pool, error) {
	switch cfg.Dialect {
	case "postgresql":
		pg, err := openPostgres(cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		x := sqlx.NewDb(pg, DriverPostgres)
		return &Pool{writer: x, reader: x}, nil
	case "sqlite", "":
		writer, err := openSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		reader, err := openSQLiteReader(cfg.Path)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		return &Pool{
			writer: sqlx.NewDb(writer, DriverSQLite),
			reader: sqlx.NewDb(reader, DriverSQLite),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", cfg.Dialect)
	}
}

// openSQLite opens the write side: a single connection with WAL mode,
// FK enforcement, and a busy timeout to ride out lock contention.
func openSQLite(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to prepare database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_cache=shared",
		dbPath,
		int(busyTimeout/time.Millisecond),
	)
	conn, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer connection: serializes writes and avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	return conn, nil
}

// openSQLiteReader opens a read-only pool; journal_mode and synchronous
// are database-level settings established by the writer.
func openSQLiteReader(dbPath string) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=ro&_busy_timeout=%d&_cache=shared",
		dbPath,
		int(busyTimeout/time.Millisecond),
	)
	conn, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}
	conn.SetMaxOpenConns(sqliteReaderConns)
	conn.SetMaxIdleConns(sqliteReaderConns)
	return conn, nil
}

func openPostgres(dsn string, maxConns int) (*sql.DB, error) {
	conn, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 25
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(maxConns / 5)
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return conn, nil
}
