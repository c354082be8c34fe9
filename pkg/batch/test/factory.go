package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	sqlrepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
)

// MetadataDBName is the connection name used by NewSQLiteMetadataDB.
const MetadataDBName = "metadata"

// NewSQLiteMetadataDB opens a private in-memory SQLite database with the metadata schema applied.
// The pool holds a single connection so that every session sees the same in-memory database.
func NewSQLiteMetadataDB(t *testing.T) (*gormadapter.GormDBConnectionResolver, *gormadapter.GormDBConnection) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Chunkflow.System.Logging.Level = string(config.LogLevelSilent)
	cfg.Chunkflow.Database[MetadataDBName] = config.DatabaseConfig{
		Type:     "sqlite",
		Database: ":memory:",
		Pool:     config.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1},
	}
	resolver := gormadapter.NewGormDBConnectionResolver(cfg)
	t.Cleanup(func() { _ = resolver.CloseAll() })

	conn, err := resolver.ResolveDBConnection(context.Background(), MetadataDBName)
	require.NoError(t, err)
	require.NoError(t, sqlrepo.Migrate(context.Background(), conn))
	return resolver, conn.(*gormadapter.GormDBConnection)
}

// NewMockedConnection wraps a *gorm.DB built on go-sqlmock as a connection of the given type.
func NewMockedConnection(db *gorm.DB, dbType string) *gormadapter.GormDBConnection {
	return gormadapter.NewGormDBConnection(db, config.DatabaseConfig{Type: dbType}, MetadataDBName)
}
