package main

// @title           Membership Backend API
// @version         1.0
// @description     Membership lifecycle and billing event reconciliation.

// @host      localhost:8888
// @BasePath  /

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/fatflowers/membership/internal/app"
)

func main() {
	os.Exit(run())
}

// run starts the API with its scheduled jobs and blocks until SIGINT/SIGTERM.
func run() int {
	var log *zap.SugaredLogger
	a := fx.New(
		app.Module,
		fx.WithLogger(func(l *zap.SugaredLogger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Desugar().Named("fx")}
		}),
		fx.Populate(&log),
	)
	if err := a.Err(); err != nil {
		// the graph failed before the service logger existed
		zap.NewExample().Sugar().Errorf("failed to build app: %v", err)
		return 1
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		log.Errorf("failed to start app: %v", err)
		return 1
	}

	sig := <-a.Done()
	log.Infow("shutting down", "signal", sig.String())

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
	defer cancelStop()
	if err := a.Stop(stopCtx); err != nil {
		log.Errorf("failed to stop app: %v", err)
		return 1
	}
	return 0
}
