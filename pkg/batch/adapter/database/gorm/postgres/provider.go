// Package postgres registers the PostgreSQL dialector. Blank-import it to enable type "postgres".
package postgres

import (
	"fmt"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	gormadapter.RegisterDialector("postgres", func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString builds the key/value DSN expected by gorm.io/driver/postgres.
func ConnectionString(c config.DatabaseConfig) string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
	if c.Schema != "" {
		dsn += " search_path=" + c.Schema
	}
	return dsn
}
