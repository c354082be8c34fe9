// Package mysql registers the MySQL dialector. Blank-import it to enable type "mysql".
package mysql

import (
	"fmt"
	"time"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString builds the DSN with charset utf8mb4, parseTime and local time.
func ConnectionString(c config.DatabaseConfig) string {
	dsn := mysqldriver.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	dsn.DBName = c.Database
	dsn.ParseTime = true
	dsn.Loc = time.Local
	dsn.Params = map[string]string{"charset": "utf8mb4"}
	return dsn.FormatDSN()
}
