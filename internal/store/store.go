// Package store persists patients, their encrypted identities, clinical history and
// erasure requests on database/sql. Two dialects are supported: sqlite3 and postgres.
//
// Every read and write goes through a Tx scoped to one clinic. The scope comes from
// the context (see package tenant) and is applied both as a clinic_id predicate on
// every statement and, on postgres, as the app.current_clinic_id setting consumed by
// row-level security policies.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hengadev/gdprvault/internal/gdprerr"
	"github.com/hengadev/gdprvault/internal/monitoring"
	"github.com/hengadev/gdprvault/internal/tenant"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect selects SQL flavour and driver.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// ParseDialect accepts the driver names and a couple of common aliases.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite3", "sqlite":
		return SQLite, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unsupported database dialect %q", s)
	}
}

// rebind rewrites ? placeholders to $n for postgres.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
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

// forUpdate is the row-lock suffix. sqlite serialises writers with BEGIN IMMEDIATE instead.
func (d Dialect) forUpdate() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// SQLiteDSN builds a file DSN that takes the write lock at BEGIN, waits on a busy
// database and enforces foreign keys.
func SQLiteDSN(path string) string {
	return path + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
}

// Store is the relational store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  monitoring.Logger
}

// Open connects to dsn with the driver for dialect and pings it.
func Open(ctx context.Context, dialect Dialect, dsn string, logger monitoring.Logger) (*Store, error) {
	driver := string(dialect)
	if dialect != SQLite && dialect != Postgres {
		return nil, fmt.Errorf("unsupported database dialect %q", dialect)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database connection test failed: %w", err)
	}
	return New(db, dialect, logger), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, dialect Dialect, logger monitoring.Logger) *Store {
	if logger == nil {
		logger = monitoring.NewDiscardLogger()
	}
	return &Store{db: db, dialect: dialect, logger: logger}
}

// DB exposes the pool for tests and tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the SQL flavour in use.
func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == Postgres {
		schema = postgresSchema
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}
	return nil
}

// Tx is a transaction scoped to one clinic.
type Tx struct {
	tx       *sql.Tx
	dialect  Dialect
	clinicID int64
}

// ClinicID is the clinic every statement in this transaction is restricted to.
func (t *Tx) ClinicID() int64 { return t.clinicID }

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.rebind(query), args...)
}

func (t *Tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.rebind(query), args...)
}

func (t *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.rebind(query), args...)
}

// WithTx runs fn in a transaction scoped to the clinic carried by ctx.
// fn's error rolls the transaction back; a nil error commits it.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	clinicID, ok := tenant.ClinicFromContext(ctx)
	if !ok {
		return gdprerr.NewTenantScopeError("store transaction")
	}
	return s.run(ctx, clinicID, fn)
}

// withSystemTx runs a cross-clinic read. Only the retention scheduler uses it.
func (s *Store) withSystemTx(ctx context.Context, fn func(*Tx) error) error {
	return s.run(ctx, 0, fn)
}

func (s *Store) run(ctx context.Context, clinicID int64, fn func(*Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &Tx{tx: sqlTx, dialect: s.dialect, clinicID: clinicID}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.Error("transaction rollback failed", "clinic_id", clinicID, "error", rbErr)
			}
			return
		}
		if cmErr := sqlTx.Commit(); cmErr != nil {
			err = translate(fmt.Errorf("failed to commit transaction: %w", cmErr))
		}
	}()

	if s.dialect == Postgres {
		if clinicID > 0 {
			_, err = tx.exec(ctx, "SELECT set_config('app.current_clinic_id', ?, true)", strconv.FormatInt(clinicID, 10))
		} else {
			_, err = tx.exec(ctx, "SELECT set_config('app.system_read', 'on', true)")
		}
		if err != nil {
			return fmt.Errorf("failed to establish tenant scope: %w", err)
		}
	}

	return fn(tx)
}

// translate maps driver constraint violations onto the error taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w", gdprerr.ErrConflict, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// OpenSQLiteFile opens the sqlite database at path and creates the schema.
func OpenSQLiteFile(ctx context.Context, path string, logger monitoring.Logger) (*Store, error) {
	s, err := Open(ctx, SQLite, SQLiteDSN(path), logger)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
