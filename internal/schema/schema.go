// Package schema owns the DDL for both fixture engines. Each engine has its own
// embedded golang-migrate source; applying it is idempotent.
package schema

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrations embed.FS

// Engine selects which migration set and database driver to use.
type Engine string

const (
	// Postgres holds the order domain: customers and orders.
	Postgres Engine = "postgres"
	// MySQL holds the payment domain: payments.
	MySQL Engine = "mysql"
)

// Dir returns the embedded directory holding the engine's migrations.
func (e Engine) Dir() string {
	return "migrations/" + string(e)
}

// migrator is the subset of *migrate.Migrate used here.
type migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Close() (source error, database error)
}

type migratorFactory func(ctx context.Context, db *sql.DB, engine Engine) (migrator, error)

// newMigrator is swapped out in tests.
var newMigrator migratorFactory = defaultMigrator

// defaultMigrator pins one pooled connection for the migration run. Closing
// the migrator releases that connection and leaves db open for the caller.
func defaultMigrator(ctx context.Context, db *sql.DB, engine Engine) (migrator, error) {
	if engine != Postgres && engine != MySQL {
		return nil, fmt.Errorf("unsupported engine %q", engine)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserving %s connection: %w", engine, err)
	}

	var driver database.Driver
	switch engine {
	case Postgres:
		driver, err = postgres.WithConnection(ctx, conn, &postgres.Config{})
	case MySQL:
		driver, err = mysql.WithConnection(ctx, conn, &mysql.Config{})
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("creating %s driver: %w", engine, err)
	}

	source, err := iofs.New(migrations, engine.Dir())
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(engine), driver)
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

func closeMigrator(m migrator, engine Engine) {
	srcErr, dbErr := m.Close()
	if srcErr != nil || dbErr != nil {
		log.Warn().
			Str("engine", string(engine)).
			AnErr("source", srcErr).
			AnErr("database", dbErr).
			Msg("closing migrator")
	}
}

// Apply runs every pending migration for the engine. Tables are created with
// IF NOT EXISTS and already applied versions are skipped, so repeated calls
// leave the schema unchanged.
func Apply(ctx context.Context, db *sql.DB, engine Engine) error {
	m, err := newMigrator(ctx, db, engine)
	if err != nil {
		return err
	}
	defer closeMigrator(m, engine)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running %s migrations: %w", engine, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("getting %s migration version: %w", engine, err)
	}

	if dirty {
		log.Warn().Str("engine", string(engine)).Uint("version", version).Msg("migration state is dirty")
	} else {
		log.Info().Str("engine", string(engine)).Uint("version", version).Msg("schema ready")
	}
	return nil
}

// Version returns the applied migration version for the engine.
func Version(ctx context.Context, db *sql.DB, engine Engine) (uint, bool, error) {
	m, err := newMigrator(ctx, db, engine)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(m, engine)
	return m.Version()
}

// Down drops every table the engine's migrations created, fixture rows included.
func Down(ctx context.Context, db *sql.DB, engine Engine) error {
	m, err := newMigrator(ctx, db, engine)
	if err != nil {
		return err
	}
	defer closeMigrator(m, engine)
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back %s migrations: %w", engine, err)
	}
	return nil
}

// Files lists the embedded migration file names for the engine.
func Files(engine Engine) ([]string, error) {
	entries, err := fs.ReadDir(migrations, engine.Dir())
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
