package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/rl1809/pos-checkout/internal/port"
)

type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLAdapter implements port.Store on top of database/sql for MySQL,
// PostgreSQL and SQLite.
type SQLAdapter struct {
	db      *sql.DB
	dialect dialect
	dsn     string
}

var _ port.Store = (*SQLAdapter)(nil)

// Open connects to the database described by opts and verifies the
// connection with a ping.
func Open(ctx context.Context, opts Options) (*SQLAdapter, error) {
	d, err := newDialect(opts.Driver)
	if err != nil {
		return nil, err
	}
	if d.name == DriverMySQL && opts.DSN != "" {
		if opts.DSN, err = mysqlDSN(opts.DSN); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(d.sqlDriverName(), opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Driver, err)
	}

	if d.name == DriverSQLite {
		// one connection keeps an in-memory database alive and serializes writers
		db.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", opts.Driver, classify("ping", err))
	}

	return &SQLAdapter{db: db, dialect: d, dsn: opts.DSN}, nil
}

// NewSQLAdapter wraps an already opened database.
func NewSQLAdapter(db *sql.DB, driverName string) (*SQLAdapter, error) {
	d, err := newDialect(driverName)
	if err != nil {
		return nil, err
	}
	return &SQLAdapter{db: db, dialect: d}, nil
}

func (s *SQLAdapter) DB() *sql.DB {
	return s.db
}

func (s *SQLAdapter) Driver() string {
	return s.dialect.name
}

func (s *SQLAdapter) Ping(ctx context.Context) error {
	return classify("ping", s.db.PingContext(ctx))
}

func (s *SQLAdapter) Close() error {
	return s.db.Close()
}

func (s *SQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, s.dialect.txOptions())
	if err != nil {
		return classify("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{tx: tx, dialect: s.dialect}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (s *SQLAdapter) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLAdapter) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLAdapter) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// sqlTx implements port.Tx over a single *sql.Tx.
type sqlTx struct {
	tx      *sql.Tx
	dialect dialect
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.rebind(query), args...)
}

func (t *sqlTx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.rebind(query), args...)
}

func (t *sqlTx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.rebind(query), args...)
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
