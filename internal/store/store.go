// Package store persists contracts and analyses in a SQL database.
//
// SQLite (github.com/mattn/go-sqlite3) is the default engine and PostgreSQL
// (github.com/lib/pq) is supported for deployments. Queries are written with
// "?" placeholders and rebound for PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var (
	// ErrContractNotFound is returned when a contract id does not resolve.
	ErrContractNotFound = errors.New("contract not found")
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the contract and analysis repository.
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(db, driver), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, driver string) *Store {
	return &Store{
		db:     db,
		driver: driver,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Driver() string { return s.driver }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		analysis_started BOOLEAN NOT NULL DEFAULT FALSE,
		last_analysis_attempt TIMESTAMP NULL,
		last_analysis_error TEXT NULL,
		analysis_retry_count INTEGER NOT NULL DEFAULT 0,
		analysis_id TEXT NULL,
		source_object TEXT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS contracts_owner_hash_uidx ON contracts (owner, content_hash)`,
	`CREATE INDEX IF NOT EXISTS contracts_content_hash_idx ON contracts (content_hash)`,
	`CREATE INDEX IF NOT EXISTS contracts_owner_created_idx ON contracts (owner, created_at)`,
	`CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts (id),
		result TEXT NOT NULL,
		abusive_clauses TEXT NOT NULL,
		risk_level TEXT NOT NULL DEFAULT 'low',
		analysis_date TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS analyses_contract_uidx ON analyses (contract_id)`,
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

func (s *Store) rebind(q string) string { return Rebind(s.driver, q) }

// Rebind rewrites "?" placeholders to "$n" for PostgreSQL.
func Rebind(driver, q string) string {
	if driver != DriverPostgres {
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

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
