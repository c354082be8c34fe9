package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "embed"

	"github.com/tigerroll/chunkflow/example/counter/internal/app"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// embeddedConfig holds resources/application.yaml.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Stopping the step...", sig)
		cancel()
		sig = <-sigChan
		logger.Fatalf("Received signal '%v' again. Exiting immediately.", sig)
	}()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	os.Exit(app.RunApplication(ctx, envFilePath, embeddedConfig))
}
