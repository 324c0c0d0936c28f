package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"checkpoint-sync-api/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// Dialect selects the DDL used to bootstrap the saves table.
type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

// OpenMySQL opens and pings a MySQL connection pool.
func OpenMySQL(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}
	return db, nil
}

// OpenSQLite opens a SQLite database at path (":memory:" for tests).
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_time_format=sqlite", path)
	if path == ":memory:" {
		dsn = ":memory:?_time_format=sqlite"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer; an in-memory database also lives on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

var schema = map[Dialect][]string{
	DialectMySQL: {`
	CREATE TABLE IF NOT EXISTS saves (
		id BIGINT NOT NULL AUTO_INCREMENT,
		created_at DATETIME(6) NOT NULL,
		content_digest CHAR(32) NOT NULL,
		blob_location VARCHAR(255) NOT NULL,
		is_private BOOLEAN NOT NULL DEFAULT FALSE,
		product_code VARCHAR(32) NULL,
		owner_key CHAR(64) NOT NULL,
		title_id BIGINT NULL,
		platform ENUM('3DS', 'Switch') NOT NULL,
		display_name VARCHAR(255) NOT NULL,
		PRIMARY KEY (id),
		KEY idx_saves_title (title_id),
		KEY idx_saves_owner (owner_key),
		KEY idx_saves_blob (blob_location)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
	DialectSQLite: {`
	CREATE TABLE IF NOT EXISTS saves (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL,
		content_digest TEXT NOT NULL CHECK (length(content_digest) = 32),
		blob_location TEXT NOT NULL,
		is_private BOOLEAN NOT NULL DEFAULT 0,
		product_code TEXT,
		owner_key TEXT NOT NULL CHECK (length(owner_key) = 64),
		title_id INTEGER,
		platform TEXT NOT NULL CHECK (platform IN ('3DS', 'Switch')),
		display_name TEXT NOT NULL
	)`,
		`CREATE INDEX IF NOT EXISTS idx_saves_title ON saves(title_id)`,
		`CREATE INDEX IF NOT EXISTS idx_saves_owner ON saves(owner_key)`,
		`CREATE INDEX IF NOT EXISTS idx_saves_blob ON saves(blob_location)`,
	},
}

// createTables creates the saves table for dialect if it does not exist.
func createTables(ctx context.Context, db *sql.DB, dialect Dialect) error {
	stmts, ok := schema[dialect]
	if !ok {
		return fmt.Errorf("unsupported dialect %q", dialect)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
