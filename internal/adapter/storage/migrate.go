package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate brings the schema up to date. MySQL and PostgreSQL migrate on a
// dedicated connection pool so the driver can release it afterwards; SQLite
// must reuse the adapter's pool to see the same database.
func (s *SQLAdapter) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations/"+s.dialect.name)
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	db := s.db
	owned := s.dialect.name != DriverSQLite && s.dsn != ""
	if owned {
		db, err = sql.Open(s.dialect.sqlDriverName(), s.dsn)
		if err != nil {
			src.Close()
			return fmt.Errorf("could not open migration connection: %w", err)
		}
		// closing twice is a no-op once the migrator has closed it
		defer db.Close()
	}

	driver, err := migrationDriver(s.dialect.name, db)
	if err != nil {
		src.Close()
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, s.dialect.name, driver)
	if err != nil {
		src.Close()
		if owned {
			driver.Close()
		}
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if owned {
		defer m.Close()
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func migrationDriver(name string, db *sql.DB) (database.Driver, error) {
	switch name {
	case DriverMySQL:
		return migratemysql.WithInstance(db, &migratemysql.Config{})
	case DriverPostgres:
		return migratepgx.WithInstance(db, &migratepgx.Config{})
	case DriverSQLite:
		return migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		return nil, fmt.Errorf("unsupported db driver %q", name)
	}
}
