// Package sqlite registers the SQLite dialector. Blank-import it to enable type "sqlite".
package sqlite

import (
	"errors"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		dsn := ConnectionString(cfg)
		if dsn == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(dsn), nil
	})
}

// ConnectionString returns the database file path (or ":memory:").
func ConnectionString(c config.DatabaseConfig) string {
	return c.Database
}
