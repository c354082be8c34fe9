// Package app wires the counter example: it builds the counter step, runs it once and maps
// its outcome to a process exit status.
package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"

	counterstep "github.com/tigerroll/chunkflow/example/counter/internal/step"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	usecase "github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/tasklet"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	sqlrepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkflow/pkg/batch/listener"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// JobName groups the executions of the counter step in the job repository.
const JobName = "counter"

// StopGracePeriod is how long a stopped step may take to finish its chunk before it is interrupted.
var StopGracePeriod = 10 * time.Second

// outcome receives the final state of the step from the run goroutine.
type outcome struct {
	mu        sync.Mutex
	execution *model.StepExecution
	err       error
}

func (o *outcome) set(execution *model.StepExecution, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.execution, o.err = execution, err
}

func (o *outcome) exitCode(mapper *tasklet.ExitCodeMapper) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.execution == nil {
		return 1
	}
	return mapper.IntValue(o.execution.ExitStatus.ExitCode)
}

// repositoryModule selects the JobRepository implementation named by the configuration.
func repositoryModule(cfg *config.Config) fx.Option {
	if cfg.Chunkflow.Infrastructure.JobRepositoryType == config.JobRepositorySQL {
		return fx.Options(gormadapter.Module, sqlrepo.Module)
	}
	return inmemory.Module
}

// runParams are the components startCounterStep needs.
type runParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Factory    *tasklet.StepFactory
	Launcher   *usecase.SimpleStepLauncher
	Operator   usecase.StepOperator
	Tasklet    *counterstep.CounterTasklet
}

// startCounterStep launches the counter step when the application starts and shuts the application
// down once the step has ended. Cancelling appCtx stops the step gracefully, and interrupts it when
// it is still running after StopGracePeriod.
func startCounterStep(appCtx context.Context, result *outcome) func(p runParams) {
	return func(p runParams) {
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				signaler := listener.NewStepCompletionSignaler()
				step, err := p.Factory.CreateTaskletStep(JobName, counterstep.StepName, p.Tasklet,
					tasklet.WithStepExecutionListeners(signaler))
				if err != nil {
					return err
				}
				// The step outlives OnStart, whose context ends with the start timeout.
				execution, err := p.Launcher.Launch(context.WithoutCancel(appCtx), step)
				if err != nil {
					return err
				}
				go supervise(appCtx, p, signaler, execution, result)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				logger.Infof("Application is shutting down.")
				return nil
			},
		})
	}
}

func supervise(appCtx context.Context, p runParams, signaler *listener.StepCompletionSignaler, execution *model.StepExecution, result *outcome) {
	defer func() {
		if err := p.Shutdowner.Shutdown(); err != nil {
			logger.Errorf("Failed to shutdown application: %v", err)
		}
	}()

	waited := make(chan error, 1)
	go func() { waited <- p.Launcher.Wait(context.Background(), execution.ID) }()

	var err error
	select {
	case <-signaler.Done():
		err = <-waited
	case err = <-waited:
	case <-appCtx.Done():
		logger.Warnf("Stopping Step '%s' (Execution ID: %s).", counterstep.StepName, execution.ID)
		if stopErr := p.Operator.Stop(context.Background(), execution.ID); stopErr != nil {
			logger.Warnf("%v", stopErr)
		}
		select {
		case err = <-waited:
		case <-time.After(StopGracePeriod):
			logger.Warnf("Step '%s' did not stop within %v. Interrupting it.", counterstep.StepName, StopGracePeriod)
			if intErr := p.Operator.Interrupt(context.Background(), execution.ID); intErr != nil {
				logger.Warnf("%v", intErr)
			}
			err = <-waited
		}
	}

	final := signaler.Final()
	if final == nil {
		final = execution
	}
	logger.Infof("Step '%s' (Execution ID: %s) ended with status %s, exit code %s. Statistics: %v",
		counterstep.StepName, final.ID, final.Status, final.ExitStatus.ExitCode, p.Tasklet.GetStatistics())
	result.set(final, err)
}

// RunApplication runs the counter step once and returns the process exit status.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig) int {
	cfg, err := config.LoadConfig(envFilePath, embeddedConfig)
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		return 1
	}

	result := &outcome{}
	app := fx.New(
		logger.Module,
		fx.Supply(
			embeddedConfig,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		config.Module,
		repositoryModule(cfg),
		metrics.Module,
		tasklet.Module,
		listener.Module,
		usecase.Module,
		counterstep.Module,
		fx.Invoke(startCounterStep(appCtx, result)),
	)
	app.Run()
	if err := app.Err(); err != nil {
		logger.Errorf("Application run failed: %v", err)
		return 1
	}
	return result.exitCode(tasklet.NewExitCodeMapper())
}
