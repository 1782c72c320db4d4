// Package postgres provides the diagnosis-history connection pool and its
// schema migrations.  Migrations are embedded in the binary and applied with
// golang-migrate, either on startup (postgres.auto_migrate) or from the CLI.
package postgres

import (
	"database/sql"
	"embed"
	stderrors "errors"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationSource returns the embedded migration files.
func migrationSource() (source.Driver, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read embedded migrations")
	}
	return src, nil
}

// Migrator applies the embedded schema.  It owns a dedicated pool because
// closing a golang-migrate instance closes the database it was built on.
type Migrator struct {
	m      *migrate.Migrate
	logger logging.Logger
}

// NewMigrator opens a migration session against the database described by
// cfg.
func NewMigrator(cfg PostgresConfig, log logging.Logger) (*Migrator, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	db, err := sqlOpen("pgx", buildDSN(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to open migration connection")
	}
	return newMigrator(db, log)
}

func newMigrator(db *sql.DB, log logging.Logger) (*Migrator, error) {
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to create migration driver")
	}
	src, err := migrationSource()
	if err != nil {
		_ = driver.Close()
		return nil, err
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		_ = driver.Close()
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create migrate instance")
	}
	return &Migrator{m: m, logger: log.Named("migrator")}, nil
}

// Up applies all pending migrations.  Having none to apply is not an error.
func (g *Migrator) Up() error {
	if err := g.m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		version, _, _ := g.m.Version()
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to run migrations").
			WithDetail("version=" + strconv.FormatUint(uint64(version), 10))
	}
	version, dirty, err := g.Version()
	if err != nil {
		return err
	}
	g.logger.Info("database migrations completed",
		logging.Int64("version", int64(version)),
		logging.Bool("dirty", dirty))
	return nil
}

// Rollback reverts the last steps migrations.
func (g *Migrator) Rollback(steps int) error {
	if steps <= 0 {
		return errors.Newf(errors.ErrCodeValidation, "steps must be greater than 0, got %d", steps)
	}
	if err := g.m.Steps(-steps); err != nil {
		if stderrors.Is(err, migrate.ErrNoChange) {
			return errors.New(errors.ErrCodeBadRequest, "no migrations to roll back")
		}
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to roll back migrations")
	}
	return nil
}

// Version reports the applied version.  An empty database is version 0.
func (g *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = g.m.Version()
	if err != nil {
		if stderrors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to get migration version")
	}
	return version, dirty, nil
}

// Force sets the version without running migrations, clearing a dirty state.
func (g *Migrator) Force(version int) error {
	if err := g.m.Force(version); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to force migration version")
	}
	return nil
}

// Close releases the source and the migration pool.
func (g *Migrator) Close() error {
	srcErr, dbErr := g.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
