// Package db provides the SQL-backed product table used as the catalog's
// record store.
//
// Three backends share one implementation over database/sql:
//   - Embedded SQLite (default): "file:path/to/catalog.db" or a bare path,
//     served by the pure-Go ncruces driver with WAL for concurrent readers.
//   - Remote libSQL/Turso: "libsql://..." URLs (cgo builds only).
//   - PostgreSQL: "postgres://..." URLs via pgx.
//
// The product table is created by InitSchema and is idempotent to recreate:
//
//	products(id PK, name, brand, image_path, updated_at)
//
// Writes are single statements. There is no multi-row transaction spanning a
// reconciliation run, so statements applied before a failure stay applied.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectLibSQL
	dialectPostgres
)

func (d dialect) String() string {
	switch d {
	case dialectSQLite:
		return "sqlite"
	case dialectLibSQL:
		return "libsql"
	case dialectPostgres:
		return "postgres"
	default:
		return "unknown"
	}
}

// Options tunes a store connection.
type Options struct {
	// Timeout bounds every individual store call (0 = no bound).
	Timeout time.Duration

	// MaxOpenConns caps the connection pool (0 = driver default).
	MaxOpenConns int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:      10 * time.Second,
		MaxOpenConns: 10,
	}
}

// DB wraps a database/sql pool holding the product table.
type DB struct {
	conn    *sql.DB
	dsn     string
	dialect dialect
	timeout time.Duration
	now     func() time.Time
}

// Open connects to the store named by dsn using DefaultOptions.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := db.Open("file:.catalogsync/catalog.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(dsn string) (*DB, error) {
	return OpenWithOptions(dsn, DefaultOptions())
}

// OpenWithOptions connects to the store named by dsn.
func OpenWithOptions(dsn string, opts Options) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database url is empty")
	}

	driverName, connStr, d, err := resolveDSN(dsn)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(sql.Drivers(), driverName) {
		return nil, fmt.Errorf("database driver %q is not available in this build", driverName)
	}

	conn, err := sql.Open(driverName, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn:    conn,
		dsn:     dsn,
		dialect: d,
		timeout: opts.Timeout,
		now:     time.Now,
	}

	if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if strings.Contains(connStr, ":memory:") {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	}
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := db.withTimeout(context.Background())
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// resolveDSN maps a user-facing database URL to a registered driver name and
// the connection string that driver expects.
func resolveDSN(dsn string) (driverName, connStr string, d dialect, err error) {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "pgx", dsn, dialectPostgres, nil

	case strings.HasPrefix(lower, "libsql://"),
		strings.HasPrefix(lower, "https://"),
		strings.HasPrefix(lower, "http://"):
		return "libsql", dsn, dialectLibSQL, nil

	default:
		connStr, err := sqliteConnString(dsn)
		if err != nil {
			return "", "", 0, err
		}
		return "sqlite3", connStr, dialectSQLite, nil
	}
}

// sqliteConnString normalises a path or file: URI, creates the parent
// directory, and adds per-connection pragmas for WAL and a busy timeout.
func sqliteConnString(dsn string) (string, error) {
	if dsn == ":memory:" {
		return "file::memory:?_pragma=busy_timeout(5000)", nil
	}

	path, query := strings.TrimPrefix(dsn, "file:"), ""
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, query = path[:i], path[i+1:]
	}

	if path != "" && !strings.HasPrefix(path, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return "", fmt.Errorf("invalid database url query: %w", err)
	}
	pragmas := strings.Join(values["_pragma"], ",")
	if !strings.Contains(pragmas, "busy_timeout") {
		values.Add("_pragma", "busy_timeout(5000)")
	}
	if !strings.Contains(pragmas, "journal_mode") {
		values.Add("_pragma", "journal_mode(wal)")
	}

	return "file:" + path + "?" + values.Encode(), nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Backend names the dialect in use: sqlite, libsql, or postgres.
func (db *DB) Backend() string {
	return db.dialect.String()
}

// Close closes the database connection.
// For SQLite a WAL checkpoint runs first so the main file is self-contained.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if db.dialect == dialectSQLite {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// Ping checks connectivity to the store.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()
	return db.conn.PingContext(ctx)
}

// InitSchema creates the product table and its indexes if they don't exist.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			brand TEXT NOT NULL,
			image_path TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_brand ON products(brand)`,
	}

	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (db *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, db.timeout)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (db *DB) rebind(query string) string {
	if db.dialect != dialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
