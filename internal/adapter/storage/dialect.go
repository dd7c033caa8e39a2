package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlOutOfRange      = 1264
	mysqlDataTooLong     = 1406

	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgQueryCanceled        = "57014"
	pgStringTooLong        = "22001"
	pgNumericOutOfRange    = "22003"
)

// dialect holds the few places where the supported SQL databases disagree.
// Queries are written with '?' placeholders and rebound per driver.
type dialect struct {
	name string
}

func newDialect(driverName string) (dialect, error) {
	switch driverName {
	case DriverMySQL, DriverPostgres, DriverSQLite:
		return dialect{name: driverName}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported db driver %q", driverName)
	}
}

// sqlDriverName is the name the driver registers with database/sql.
func (d dialect) sqlDriverName() string {
	if d.name == DriverPostgres {
		return "pgx"
	}
	return d.name
}

func (d dialect) rebind(query string) string {
	if d.name != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// forUpdate is appended to reads that must lock the rows they return.
// SQLite serializes writers on the database file instead.
func (d dialect) forUpdate() string {
	if d.name == DriverSQLite {
		return ""
	}
	return " FOR UPDATE"
}

func (d dialect) txOptions() *sql.TxOptions {
	if d.name == DriverSQLite {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// classify maps a driver error to the error taxonomy. The driver message is
// kept inside the returned *domain.StoreError for logs only.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *domain.StoreError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.StoreError{Kind: domain.ErrNotFound, Op: op, Err: err}
	}
	return &domain.StoreError{Kind: kindOf(err), Op: op, Err: err}
}

func kindOf(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrTimeout
	case errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, mysql.ErrInvalidConn):
		return domain.ErrUnavailable
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry, mysqlDeadlock, mysqlLockWaitTimeout:
			return domain.ErrConflict
		case mysqlOutOfRange, mysqlDataTooLong:
			return domain.ErrInvalidRequest
		}
		return domain.ErrInternal
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
			return domain.ErrConflict
		case pgQueryCanceled:
			return domain.ErrTimeout
		case pgStringTooLong, pgNumericOutOfRange:
			return domain.ErrInvalidRequest
		}
		return domain.ErrInternal
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return domain.ErrConflict
		}
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return domain.ErrConflict
		}
		return domain.ErrInternal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.ErrTimeout
		}
		return domain.ErrUnavailable
	}
	return domain.ErrInternal
}

// mysqlDSN forces the connection parameters the adapter depends on: parsed
// DATETIME columns, matched rather than changed row counts, and the
// multi-statement migration files.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	cfg.MultiStatements = true
	return cfg.FormatDSN(), nil
}
