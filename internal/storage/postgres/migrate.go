package postgres

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5:// scheme
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded schema migrations to the database at dsn.
func Migrate(dsn string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	target, err := migrateURL(dsn)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create source instance: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warn("close migrate instance", zap.NamedError("source", srcErr), zap.NamedError("database", dbErr))
		}
	}()

	migrateErr := m.Up()

	fields := []zap.Field{}
	version, dirty, versionErr := m.Version()
	if versionErr == nil {
		fields = append(fields, zap.Uint("version", version), zap.Bool("dirty", dirty))
	} else if !errors.Is(versionErr, migrate.ErrNilVersion) {
		logger.Warn("failed to fetch migration version", zap.Error(versionErr))
	}

	if migrateErr != nil {
		if !errors.Is(migrateErr, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", migrateErr)
		}
		logger.Info("no migrations to apply", fields...)
		return nil
	}
	logger.Info("database migrated", fields...)
	return nil
}

// migrateURL rewrites a postgres URL to the scheme the pgx/v5 migrate driver
// registers.
func migrateURL(dsn string) (string, error) {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix), nil
		}
	}
	if strings.HasPrefix(dsn, "pgx5://") {
		return dsn, nil
	}
	return "", fmt.Errorf("migrations need a postgres:// url dsn")
}

// EnsureSSLMode appends sslmode=require when dsn does not choose a mode.
func EnsureSSLMode(dsn string) string {
	if dsn == "" || strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	if !strings.Contains(dsn, "://") {
		return strings.TrimSpace(dsn) + " sslmode=require"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "sslmode=require"
}
