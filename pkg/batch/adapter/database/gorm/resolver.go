package gorm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"

	"github.com/hashicorp/go-multierror"
)

// GormDBConnectionResolver opens the connections configured under chunkflow.database lazily and keeps them pooled.
type GormDBConnectionResolver struct {
	databases   map[string]config.DatabaseConfig
	logLevel    string
	connections map[string]database.DBConnection
	mu          sync.Mutex
}

// NewGormDBConnectionResolver creates a resolver over the configured databases.
func NewGormDBConnectionResolver(cfg *config.Config) *GormDBConnectionResolver {
	return &GormDBConnectionResolver{
		databases:   cfg.Chunkflow.Database,
		logLevel:    cfg.Chunkflow.System.Logging.Level,
		connections: make(map[string]database.DBConnection),
	}
}

// Register adds an already opened connection, replacing any pooled one with the same name.
func (r *GormDBConnectionResolver) Register(conn database.DBConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.Name()] = conn
}

// ResolveDBConnection returns the pooled connection, opening it on first use.
// A connection failing its ping is closed and reopened.
func (r *GormDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.connections[name]; ok {
		// A transaction open on this connection proves it alive, and pinging could wait on a pool it exhausts.
		if t, ok := tx.FromContext(ctx); ok {
			if gt, ok := t.(*GormTx); ok && gt.connName == name {
				return conn, nil
			}
		}
		sqlDB, err := conn.SQLDB()
		if err != nil {
			return nil, err
		}
		pingErr := sqlDB.PingContext(ctx)
		if pingErr == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warnf("DBConnectionResolver: Connection '%s' is invalid (%v). Attempting to reconnect.", name, pingErr)
		if err := conn.Close(); err != nil {
			logger.Warnf("DBConnectionResolver: Failed to close connection '%s' before reconnect: %v", name, err)
		}
		delete(r.connections, name)
	}

	dbCfg, ok := r.databases[name]
	if !ok {
		return nil, fmt.Errorf("DBConnectionResolver: database configuration '%s' not found under chunkflow.database", name)
	}
	conn, err := Open(name, dbCfg, r.logLevel)
	if err != nil {
		return nil, err
	}
	r.connections[name] = conn
	logger.Infof("Established DB connection: %s (%s)", name, dbCfg.Type)
	return conn, nil
}

// CloseAll closes every pooled connection.
func (r *GormDBConnectionResolver) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result error
	for name, conn := range r.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close connection '%s': %w", name, err))
		}
		delete(r.connections, name)
	}
	return result
}

var _ database.DBConnectionResolver = (*GormDBConnectionResolver)(nil)
