package db

import (
	"database/sql"
	"embed"
	"errors"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/logging"
)

// migrationFiles holds the embedded schema migrations, named
// <version>_<title>.up.sql.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations is the migrations directory as an fs.FS rooted at the SQL files.
var Migrations fs.FS = mustSub(migrationFiles, "migrations")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrate applies every pending migration in files to sqlDB. The version is
// tracked in schema_migrations; a failed migration leaves it dirty and later
// calls fail until it is repaired.
func Migrate(sqlDB *sql.DB, files fs.FS) error {
	src, err := iofs.New(files, ".")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "read migrations", err)
	}
	// the database driver's Close would close sqlDB, so only the source is closed
	defer src.Close()

	driver, err := sqlite.WithInstance(sqlDB, &sqlite.Config{})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "initialise sqlite migration driver", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "initialise migrate instance", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return apperrors.Wrap(apperrors.ErrMigration, "apply migrations", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "read schema version", err)
	}
	logging.Info("Database migrations applied", map[string]interface{}{
		"version": version,
	})
	return nil
}
