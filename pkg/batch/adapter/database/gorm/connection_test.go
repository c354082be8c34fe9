package gorm_test

import (
	"context"
	"testing"
	"time"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID   int `gorm:"primaryKey"`
	Name string
}

func (widget) TableName() string { return "widgets" }

func newSQLiteResolver(t *testing.T) (*gormadapter.GormDBConnectionResolver, *gormadapter.GormDBConnection) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Chunkflow.System.Logging.Level = "SILENT"
	cfg.Chunkflow.Database["metadata"] = config.DatabaseConfig{
		Type:     "sqlite",
		Database: ":memory:",
		Pool:     config.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1},
	}
	resolver := gormadapter.NewGormDBConnectionResolver(cfg)
	t.Cleanup(func() { _ = resolver.CloseAll() })

	conn, err := resolver.ResolveDBConnection(context.Background(), "metadata")
	require.NoError(t, err)
	gc := conn.(*gormadapter.GormDBConnection)
	require.NoError(t, gc.GormDB().Exec("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)").Error)
	return resolver, gc
}

func TestConnectionStrings(t *testing.T) {
	db := config.DatabaseConfig{Host: "localhost", Port: 5432, User: "batch", Password: "secret", Database: "meta"}

	assert.Equal(t, "host=localhost port=5432 user=batch password=secret dbname=meta sslmode=disable", postgres.ConnectionString(db))
	db.Schema = "chunkflow"
	db.Sslmode = "require"
	assert.Equal(t, "host=localhost port=5432 user=batch password=secret dbname=meta sslmode=require search_path=chunkflow", postgres.ConnectionString(db))

	db.Port = 3306
	parsed, err := mysqldriver.ParseDSN(mysql.ConnectionString(db))
	require.NoError(t, err)
	assert.Equal(t, "batch", parsed.User)
	assert.Equal(t, "secret", parsed.Passwd)
	assert.Equal(t, "localhost:3306", parsed.Addr)
	assert.Equal(t, "meta", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, time.Local, parsed.Loc)
	assert.Equal(t, "utf8mb4", parsed.Params["charset"])
}

func TestGetDialectorFactory_Unknown(t *testing.T) {
	_, err := gormadapter.GetDialectorFactory("oracle")
	assert.Error(t, err)
}

func TestResolver_PoolsConnections(t *testing.T) {
	resolver, conn := newSQLiteResolver(t)

	again, err := resolver.ResolveDBConnection(context.Background(), "metadata")
	require.NoError(t, err)
	assert.Same(t, conn, again)
	assert.Equal(t, "sqlite", again.Type())

	_, err = resolver.ResolveDBConnection(context.Background(), "reporting")
	assert.Error(t, err)
}

func TestTransactionManager_CommitAndRollback(t *testing.T) {
	resolver, conn := newSQLiteResolver(t)
	manager := gormadapter.NewGormTransactionManager(resolver, "metadata")
	ctx := context.Background()

	rolledBack, err := manager.Begin(ctx)
	require.NoError(t, err)
	_, err = rolledBack.ExecuteUpdate(ctx, &widget{ID: 1, Name: "lost"}, "CREATE", "", nil)
	require.NoError(t, err)
	require.NoError(t, manager.Rollback(rolledBack))

	count, err := conn.Count(ctx, &widget{}, nil)
	require.NoError(t, err)
	assert.Zero(t, count)

	committed, err := manager.Begin(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, committed.ID())
	_, err = committed.ExecuteUpdate(ctx, &widget{ID: 2, Name: "kept"}, "CREATE", "", nil)
	require.NoError(t, err)
	require.NoError(t, manager.Commit(committed))

	var rows []widget
	require.NoError(t, conn.ExecuteQuery(ctx, &rows, map[string]interface{}{"id": 2}))
	require.Len(t, rows, 1)
	assert.Equal(t, "kept", rows[0].Name)
}

func TestConnection_JoinsTransactionFromContext(t *testing.T) {
	resolver, conn := newSQLiteResolver(t)
	manager := gormadapter.NewGormTransactionManager(resolver, "metadata")

	active, err := manager.Begin(context.Background())
	require.NoError(t, err)
	txCtx := tx.WithTx(context.Background(), active)

	_, err = conn.ExecuteUpdate(txCtx, &widget{ID: 7, Name: "pending"}, "CREATE", "", nil)
	require.NoError(t, err)
	count, err := conn.Count(txCtx, &widget{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "reads inside the transaction see its writes")

	require.NoError(t, manager.Rollback(active))
	count, err = conn.Count(context.Background(), &widget{}, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestConnection_UpdateUpsertAndDelete(t *testing.T) {
	_, conn := newSQLiteResolver(t)
	ctx := context.Background()

	_, err := conn.ExecuteUpdate(ctx, &widget{ID: 1, Name: "a"}, "CREATE", "", nil)
	require.NoError(t, err)

	affected, err := conn.ExecuteUpdate(ctx, &widget{ID: 1, Name: "b"}, "UPDATE", "", map[string]interface{}{"name": "stale"})
	require.NoError(t, err)
	assert.Zero(t, affected, "the extra condition does not match")

	affected, err = conn.ExecuteUpdate(ctx, &widget{ID: 1, Name: "b"}, "UPDATE", "", map[string]interface{}{"name": "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	_, err = conn.ExecuteUpsert(ctx, &widget{ID: 1, Name: "c"}, "", []string{"id"}, []string{"name"})
	require.NoError(t, err)
	var rows []widget
	require.NoError(t, conn.ExecuteQueryAdvanced(ctx, &rows, nil, "id desc", 1))
	require.Len(t, rows, 1)
	assert.Equal(t, "c", rows[0].Name)

	affected, err = conn.ExecuteUpdate(ctx, &widget{}, "DELETE", "", map[string]interface{}{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	_, err = conn.ExecuteUpdate(ctx, &widget{}, "MERGE", "", nil)
	assert.Error(t, err)
}

func TestIsTableNotExistError(t *testing.T) {
	_, conn := newSQLiteResolver(t)

	err := conn.GormDB().Exec("SELECT * FROM missing_table").Error
	require.Error(t, err)
	assert.True(t, conn.IsTableNotExistError(err))
	assert.False(t, gormadapter.IsTableNotExistError(nil))
}
