// Package gorm implements the database adapter on top of GORM.
// Dialects register themselves from the sqlite, mysql and postgres sub packages.
package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TableNamer represents a model with an explicit table name.
type TableNamer interface {
	TableName() string
}

// GormDBConnection implements database.DBConnection.
type GormDBConnection struct {
	db   *gorm.DB
	cfg  config.DatabaseConfig
	name string
}

// NewGormDBConnection wraps an opened *gorm.DB.
func NewGormDBConnection(db *gorm.DB, cfg config.DatabaseConfig, name string) *GormDBConnection {
	return &GormDBConnection{db: db, cfg: cfg, name: name}
}

// Open connects to the database described by cfg and applies its pool settings.
func Open(name string, cfg config.DatabaseConfig, logLevel string) (*GormDBConnection, error) {
	factory, err := GetDialectorFactory(cfg.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", cfg.Type, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(logLevel)})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection '%s': %w", name, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB of '%s': %w", name, err)
	}
	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return NewGormDBConnection(db, cfg, name), nil
}

// Name implements database.DBConnection.
func (c *GormDBConnection) Name() string { return c.name }

// Type implements database.DBConnection.
func (c *GormDBConnection) Type() string { return c.cfg.Type }

// GormDB returns the underlying *gorm.DB.
func (c *GormDBConnection) GormDB() *gorm.DB { return c.db }

// SQLDB implements database.DBConnection.
func (c *GormDBConnection) SQLDB() (*sql.DB, error) { return c.db.DB() }

// Close implements database.DBConnection.
func (c *GormDBConnection) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// session returns the transaction bound to ctx when it was begun on this connection, otherwise the pool.
func (c *GormDBConnection) session(ctx context.Context) *gorm.DB {
	if t, ok := tx.FromContext(ctx); ok {
		if gt, ok := t.(*GormTx); ok && gt.connName == c.name {
			return gt.db.WithContext(ctx)
		}
	}
	return c.db.WithContext(ctx)
}

// ExecuteUpdate implements database.DBExecutor.
func (c *GormDBConnection) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return executeUpdate(c.session(ctx), model, operation, tableName, query)
}

// ExecuteUpsert implements database.DBExecutor.
func (c *GormDBConnection) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return executeUpsert(c.session(ctx), model, tableName, conflictColumns, updateColumns)
}

// ExecuteQuery implements database.DBExecutor.
func (c *GormDBConnection) ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error {
	return c.ExecuteQueryAdvanced(ctx, target, query, "", 0)
}

// ExecuteQueryAdvanced implements database.DBExecutor.
func (c *GormDBConnection) ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error {
	db := applyTableName(c.session(ctx), target)
	if len(query) > 0 {
		db = db.Where(query)
	}
	if orderBy != "" {
		db = db.Order(orderBy)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	return db.Find(target).Error
}

// Count implements database.DBExecutor.
func (c *GormDBConnection) Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error) {
	var count int64
	db := applyTableName(c.session(ctx), model)
	if len(query) > 0 {
		db = db.Where(query)
	}
	if err := db.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// IsTableNotExistError implements database.DBConnection.
func (c *GormDBConnection) IsTableNotExistError(err error) bool {
	return IsTableNotExistError(err)
}

// IsTableNotExistError recognises "missing table" errors of PostgreSQL, MySQL and SQLite.
func IsTableNotExistError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return (strings.Contains(msg, "relation \"") && strings.Contains(msg, "\" does not exist")) ||
		(strings.Contains(msg, "Error 1146") && strings.Contains(msg, "doesn't exist")) ||
		strings.Contains(msg, "no such table:")
}

func executeUpdate(db *gorm.DB, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	if tableName != "" {
		db = db.Table(tableName)
	}

	var result *gorm.DB
	switch operation {
	case "CREATE":
		result = db.Create(model)
	case "UPDATE":
		// Zero values are written too, so counters reset by the caller reach the row.
		result = db.Model(model).Where(query).Select("*").Updates(model)
	case "DELETE":
		if len(query) > 0 {
			db = db.Where(query)
		}
		result = db.Delete(model)
	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func executeUpsert(db *gorm.DB, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	if tableName != "" {
		db = db.Table(tableName)
	}
	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, col := range conflictColumns {
		columns = append(columns, clause.Column{Name: col})
	}
	onConflict := clause.OnConflict{Columns: columns}
	if len(updateColumns) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(updateColumns)
	} else {
		onConflict.DoNothing = true
	}

	result := db.Clauses(onConflict).Create(model)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// applyTableName uses TableName() of the model, or of the element type for slices, when available.
func applyTableName(db *gorm.DB, model interface{}) *gorm.DB {
	if namer, ok := model.(TableNamer); ok {
		return db.Table(namer.TableName())
	}

	val := reflect.ValueOf(model)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() == reflect.Slice || val.Kind() == reflect.Array {
		elemType := val.Type().Elem()
		if elemType.Kind() == reflect.Ptr {
			elemType = elemType.Elem()
		}
		if namer, ok := reflect.New(elemType).Interface().(TableNamer); ok {
			return db.Table(namer.TableName())
		}
	}
	return db.Model(model)
}

var _ database.DBConnection = (*GormDBConnection)(nil)
