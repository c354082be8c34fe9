package sql_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	sqlrepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	testutil "github.com/tigerroll/chunkflow/pkg/batch/test"
)

// setupGormMock builds a repository on a MySQL dialect backed by go-sqlmock.
func setupGormMock(t *testing.T) (sqlmock.Sqlmock, *sqlrepo.SQLJobRepository) {
	sqlDB, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	conn := testutil.NewMockedConnection(gormDB, "mysql")
	return sqlMock, sqlrepo.NewSQLJobRepository(testutil.NewSingleConnectionResolver(conn), testutil.MetadataDBName)
}

func TestSQLJobRepository_CreateStepInstanceUsesContextTransaction(t *testing.T) {
	sqlMock, repo := setupGormMock(t)
	mockTx := new(testutil.MockTx)
	mockTx.On("ExecuteUpdate", mock.Anything, mock.Anything, "CREATE", "chunkflow_step_instance", mock.Anything).Return(int64(1), nil)

	err := repo.CreateStepInstance(tx.WithTx(context.Background(), mockTx), model.NewStepInstance("nightly", "counter"))

	require.NoError(t, err)
	mockTx.AssertExpectations(t)
	assert.NoError(t, sqlMock.ExpectationsWereMet(), "nothing reached the pool")
}

func TestSQLJobRepository_UpdateStepInstanceChecksVersion(t *testing.T) {
	sqlMock, repo := setupGormMock(t)
	instance := model.NewStepInstance("nightly", "counter")
	instance.Version = 3

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec("UPDATE `chunkflow_step_instance` SET .* WHERE .*version.*").
		WillReturnResult(sqlmock.NewResult(0, 0))
	sqlMock.ExpectCommit()

	err := repo.UpdateStepInstance(context.Background(), instance)

	assert.True(t, exception.IsOptimisticLockingFailure(err))
	assert.Equal(t, 3, instance.Version)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestSQLJobRepository_SaveOrUpdateInsertsUnknownExecution(t *testing.T) {
	sqlMock, repo := setupGormMock(t)
	se := model.NewStepExecution(model.NewStepInstance("nightly", "counter"))

	mockTx := new(testutil.MockTx)
	mockTx.On("ExecuteUpdate", mock.Anything, mock.Anything, "UPDATE", "chunkflow_step_execution",
		map[string]interface{}{"version": 0}).Return(int64(0), nil)
	mockTx.On("ExecuteUpdate", mock.Anything, mock.Anything, "CREATE", "chunkflow_step_execution", mock.Anything).Return(int64(1), nil)
	sqlMock.ExpectQuery("SELECT count\\(\\*\\) FROM `chunkflow_step_execution`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err := repo.SaveOrUpdateStepExecution(tx.WithTx(context.Background(), mockTx), se)

	require.NoError(t, err)
	assert.Equal(t, 0, se.Version)
	mockTx.AssertExpectations(t)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestSQLJobRepository_WriteErrorsAreBatchErrors(t *testing.T) {
	_, repo := setupGormMock(t)
	mockTx := new(testutil.MockTx)
	mockTx.On("ExecuteUpdate", mock.Anything, mock.Anything, "CREATE", "chunkflow_step_instance", mock.Anything).
		Return(int64(0), errors.New("Error 1062: Duplicate entry"))

	err := repo.CreateStepInstance(tx.WithTx(context.Background(), mockTx), model.NewStepInstance("nightly", "counter"))

	var be *exception.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "repository", be.Module)
	assert.NotContains(t, err.Error(), "migrate_on_start")
}
