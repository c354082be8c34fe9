// Package sql provides a JobRepository persisting step metadata through the database adapter.
// Writes join the chunk transaction carried by the context, so restart data and counters
// commit or roll back together with the chunk.
package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const moduleName = "repository"

// SQLJobRepository implements repository.JobRepository on a named database connection.
type SQLJobRepository struct {
	dbResolver database.DBConnectionResolver
	// dbName is the name of the database connection used by this repository (e.g. "metadata").
	dbName string
}

// NewSQLJobRepository creates a repository using the connection named dbName.
func NewSQLJobRepository(dbResolver database.DBConnectionResolver, dbName string) *SQLJobRepository {
	return &SQLJobRepository{dbResolver: dbResolver, dbName: dbName}
}

func (r *SQLJobRepository) getDBConnection(ctx context.Context) (database.DBConnection, error) {
	conn, err := r.dbResolver.ResolveDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to resolve DB connection '%s'", r.dbName), err, false, true)
	}
	return conn, nil
}

// getTxExecutor returns the transaction bound to ctx, or the connection when there is none.
func (r *SQLJobRepository) getTxExecutor(ctx context.Context, conn database.DBConnection) tx.TxExecutor {
	if t, ok := tx.FromContext(ctx); ok {
		return t
	}
	return conn
}

func (r *SQLJobRepository) wrapError(conn database.DBConnection, err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if conn.IsTableNotExistError(err) {
		msg += " (metadata tables are missing; run the migrations or set infrastructure.migrate_on_start)"
	}
	return exception.NewBatchError(moduleName, msg, err, false, false)
}

// CreateStepInstance implements repository.StepInstance.
func (r *SQLJobRepository) CreateStepInstance(ctx context.Context, instance *model.StepInstance) error {
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}
	entity := fromDomainStepInstance(instance)
	if _, err := r.getTxExecutor(ctx, conn).ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
		return r.wrapError(conn, err, "failed to create StepInstance %s/%s (ID: %s)", instance.JobName, instance.StepName, instance.ID)
	}
	return nil
}

// FindStepInstance implements repository.StepInstance.
func (r *SQLJobRepository) FindStepInstance(ctx context.Context, jobName, stepName string) (*model.StepInstance, error) {
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}
	var entities []StepInstanceEntity
	query := map[string]interface{}{"job_name": jobName, "step_name": stepName}
	if err := conn.ExecuteQueryAdvanced(ctx, &entities, query, "", 1); err != nil {
		return nil, r.wrapError(conn, err, "failed to find StepInstance %s/%s", jobName, stepName)
	}
	if len(entities) == 0 {
		return nil, repository.ErrStepInstanceNotFound
	}
	return toDomainStepInstance(&entities[0]), nil
}

// UpdateStepInstance implements repository.StepInstance with an optimistic version check.
func (r *SQLJobRepository) UpdateStepInstance(ctx context.Context, instance *model.StepInstance) error {
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}

	originalVersion := instance.Version
	originalUpdated := instance.LastUpdated
	instance.Version++
	instance.LastUpdated = time.Now()
	entity := fromDomainStepInstance(instance)

	rowsAffected, err := r.getTxExecutor(ctx, conn).ExecuteUpdate(ctx, entity, "UPDATE", entity.TableName(),
		map[string]interface{}{"version": originalVersion})
	if err != nil {
		instance.Version, instance.LastUpdated = originalVersion, originalUpdated
		return r.wrapError(conn, err, "failed to update StepInstance (ID: %s)", instance.ID)
	}
	if rowsAffected == 0 {
		instance.Version, instance.LastUpdated = originalVersion, originalUpdated
		return exception.NewOptimisticLockingFailureException(moduleName,
			fmt.Sprintf("StepInstance (ID: %s) with version %d not found for update", instance.ID, originalVersion), nil)
	}
	return nil
}

// SaveOrUpdateStepExecution implements repository.StepExecution.
// An update matching no row inserts the execution when its ID is unknown, otherwise the version was stale.
func (r *SQLJobRepository) SaveOrUpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}
	executor := r.getTxExecutor(ctx, conn)

	originalVersion := stepExecution.Version
	stepExecution.Version++
	entity := fromDomainStepExecution(stepExecution)

	rowsAffected, err := executor.ExecuteUpdate(ctx, entity, "UPDATE", entity.TableName(),
		map[string]interface{}{"version": originalVersion})
	if err != nil {
		stepExecution.Version = originalVersion
		return r.wrapError(conn, err, "failed to update StepExecution (ID: %s)", stepExecution.ID)
	}
	if rowsAffected > 0 {
		return nil
	}
	stepExecution.Version = originalVersion

	existing, err := conn.Count(ctx, &StepExecutionEntity{}, map[string]interface{}{"id": stepExecution.ID})
	if err != nil {
		return r.wrapError(conn, err, "failed to look up StepExecution (ID: %s)", stepExecution.ID)
	}
	if existing > 0 {
		return exception.NewOptimisticLockingFailureException(moduleName,
			fmt.Sprintf("StepExecution (ID: %s) with version %d not found for update", stepExecution.ID, originalVersion), nil)
	}

	entity = fromDomainStepExecution(stepExecution)
	if _, err := executor.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
		return r.wrapError(conn, err, "failed to save StepExecution (ID: %s)", stepExecution.ID)
	}
	logger.Debugf("Saved StepExecution (ID: %s) of step '%s'.", stepExecution.ID, stepExecution.StepName)
	return nil
}

// FindStepExecutionByID implements repository.StepExecution.
func (r *SQLJobRepository) FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error) {
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}
	var entities []StepExecutionEntity
	if err := conn.ExecuteQueryAdvanced(ctx, &entities, map[string]interface{}{"id": executionID}, "", 1); err != nil {
		return nil, r.wrapError(conn, err, "failed to find StepExecution (ID: %s)", executionID)
	}
	if len(entities) == 0 {
		return nil, repository.ErrStepExecutionNotFound
	}
	return toDomainStepExecution(&entities[0]), nil
}

// FindStepExecutionsByStepInstance implements repository.StepExecution.
func (r *SQLJobRepository) FindStepExecutionsByStepInstance(ctx context.Context, stepInstanceID string) ([]*model.StepExecution, error) {
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}
	var entities []StepExecutionEntity
	if err := conn.ExecuteQueryAdvanced(ctx, &entities, map[string]interface{}{"step_instance_id": stepInstanceID}, "start_time asc, id asc", 0); err != nil {
		return nil, r.wrapError(conn, err, "failed to find StepExecutions of StepInstance (ID: %s)", stepInstanceID)
	}
	result := make([]*model.StepExecution, 0, len(entities))
	for i := range entities {
		result = append(result, toDomainStepExecution(&entities[i]))
	}
	return result, nil
}

// Close is a no-op: connections belong to the resolver, which closes them on shutdown.
func (r *SQLJobRepository) Close() error {
	return nil
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)
