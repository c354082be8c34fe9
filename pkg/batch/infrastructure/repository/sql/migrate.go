package sql

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrationsTable records the applied schema version of the metadata tables.
const MigrationsTable = "chunkflow_schema_migrations"

//go:embed migrations
var migrationFS embed.FS

// Migrate applies the pending metadata schema migrations for the connection's database type.
func Migrate(ctx context.Context, conn database.DBConnection) error {
	path := "migrations/" + conn.Type()
	logger.Infof("Applying metadata migrations (DB: %s, Path: %s, Table: %s)", conn.Name(), path, MigrationsTable)

	sqlDB, err := conn.SQLDB()
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to get underlying sql.DB", err, false, false)
	}
	source, err := iofs.New(migrationFS, path)
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("no migrations for database type '%s'", conn.Type()), err, false, false)
	}

	var driver migratedb.Driver
	switch conn.Type() {
	case "sqlite":
		// Closing this driver would close the shared pool, so only the source is closed below.
		driver, err = sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: MigrationsTable})
	case "postgres":
		sqlConn, connErr := sqlDB.Conn(ctx)
		if connErr != nil {
			return exception.NewBatchError(moduleName, "failed to acquire a connection for migrations", connErr, false, true)
		}
		defer sqlConn.Close()
		driver, err = postgres.WithConnection(ctx, sqlConn, &postgres.Config{MigrationsTable: MigrationsTable})
	case "mysql":
		sqlConn, connErr := sqlDB.Conn(ctx)
		if connErr != nil {
			return exception.NewBatchError(moduleName, "failed to acquire a connection for migrations", connErr, false, true)
		}
		defer sqlConn.Close()
		driver, err = mysql.WithConnection(ctx, sqlConn, &mysql.Config{MigrationsTable: MigrationsTable})
	default:
		err = fmt.Errorf("unsupported database type for migration: %s", conn.Type())
	}
	if err != nil {
		_ = source.Close()
		return exception.NewBatchError(moduleName, "failed to create migration driver", err, false, false)
	}
	defer source.Close()

	m, err := migrate.NewWithInstance("iofs", source, conn.Type(), driver)
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to create migrate instance", err, false, false)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return exception.NewBatchError(moduleName, fmt.Sprintf("metadata migration failed (DB: %s)", conn.Name()), err, false, false)
	}
	version, dirty, _ := m.Version()
	logger.Infof("Metadata schema of '%s' is at version %d (dirty: %t).", conn.Name(), version, dirty)
	return nil
}
