// Package database defines the connection abstraction used by the SQL job repository.
// Implementations live in sub packages (see gorm).
package database

import (
	"context"
	"database/sql"
)

// DBExecutor defines the read and write operations the repository needs.
// When ctx carries a transaction begun on the same connection, operations run inside it.
type DBExecutor interface {
	// ExecuteUpdate performs write operations ("CREATE", "UPDATE", "DELETE").
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert performs an INSERT ... ON CONFLICT operation.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)

	// ExecuteQuery loads all rows matching query into target.
	ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error

	// ExecuteQueryAdvanced loads rows matching query into target with optional ordering and limit (0 means no limit).
	ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error

	// Count counts the rows of model's table matching query.
	Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error)
}

// DBConnection is a named, pooled database connection.
type DBConnection interface {
	DBExecutor

	// Name returns the configuration name of the connection (e.g. "metadata").
	Name() string
	// Type returns the database type ("postgres", "mysql", "sqlite").
	Type() string
	// SQLDB returns the underlying *sql.DB, for migrations and health checks.
	SQLDB() (*sql.DB, error)
	// IsTableNotExistError reports whether err means the queried table does not exist.
	IsTableNotExistError(err error) bool
	// Close closes the connection pool.
	Close() error
}

// DBConnectionResolver resolves named connections, reconnecting when a pooled connection is no longer usable.
type DBConnectionResolver interface {
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}
