package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	pkgerrors "github.com/pkg/errors"
)

// MigrationLogger adapts ectologger to migrate.Logger.
type MigrationLogger struct {
	ectologger.Logger
}

func (l MigrationLogger) Verbose() bool {
	return true
}

func (l MigrationLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

type MigrationConfig struct {
	MigrationFolderPath string
	Version             uint
	Force               int
	// AutoRollback forces a dirty database back to the version it started from.
	AutoRollback bool
}

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

func (ms *MigrationService) resolveMigrationFolder() string {
	folder := ms.config.MigrationFolderPath
	if filepath.IsAbs(folder) {
		return folder
	}
	if _, err := os.Stat(folder); err == nil {
		abs, absErr := filepath.Abs(folder)
		if absErr == nil {
			return abs
		}
	}
	wd, _ := os.Getwd()
	return filepath.Join(wd, folder)
}

// Migrate applies the postgres migrations in the configured folder against db.
func (ms *MigrationService) Migrate(db *sql.DB, databaseName string) error {
	folder := ms.resolveMigrationFolder()
	if _, err := os.Stat(folder); err != nil {
		return pkgerrors.Wrap(err, fmt.Sprintf("migration folder %s does not exist", folder))
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{DatabaseName: databaseName})
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create migration driver")
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return err
	}
	m.Log = MigrationLogger{Logger: ms.logger}

	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.WithError(err).Errorf("Failed to force database to version %d", ms.config.Force)
			return err
		}
	}

	previous, _, versionErr := m.Version()
	if versionErr != nil && !errors.Is(versionErr, migrate.ErrNilVersion) {
		ms.logger.WithError(versionErr).Error("Failed to get current migration version")
	}

	start := time.Now()
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}
	ms.logger.Infof("Database migrations completed in %v", time.Since(start))

	switch {
	case err == nil:
		ms.logger.Info("Successfully applied migrations")
		return nil
	case errors.Is(err, migrate.ErrNoChange):
		ms.logger.Info("No new migrations to apply")
		return nil
	}

	version, dirty, _ := m.Version()
	ms.logger.WithError(err).Errorf("Failed to apply migrations. Database version is dirty=%t at version %d", dirty, version)

	if dirty && ms.config.AutoRollback && previous > 0 {
		ms.logger.Warnf("Database is dirty at version %d. Reverting to version %d", version, previous)
		if forceErr := m.Force(int(previous)); forceErr != nil {
			ms.logger.WithError(forceErr).Errorf("Failed to force database to version %d", previous)
			return forceErr
		}
	}

	return err
}
