package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env file is fine, the environment is used as is
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("[FATAL] Failed to load .env file: %s", err)
	}

	if err := run(os.Args); err != nil {
		log.Fatalf("[FATAL] %s", err)
	}
}

// run returns instead of exiting so deferred cleanup always happens
func run(args []string) error {
	// Load initial configuration
	configuration, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}
	logger, err := getLogger(configuration)
	if err != nil {
		return fmt.Errorf("failed to instantiate logger: %w", err)
	}
	defer logger.Sync()

	// Validate the configuration
	if errs := configuration.Validate(); len(errs) != 0 {
		return fmt.Errorf("invalid configuration values: %w", multierr.Combine(errs...))
	}
	logger.Infow("Using configuration", "configuration", configuration)

	// Initialize application state
	ctx := context.Background()
	state, err := NewState(ctx, configuration, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer state.Store.CleanUp()

	if err := state.RegisterBootstrapToken(ctx); err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	if _, err := state.Syncer.SyncAll(ctx); err != nil {
		logger.Errorw("Initial zone synchronization failed", "err", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	state.Scheduler.Start(configuration.interval)

	var server *http.Server
	serverErrors := make(chan error, 1)
	if configuration.ListenAddress != "" {
		server = &http.Server{
			Addr:              configuration.ListenAddress,
			Handler:           state.API,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Infow("Serving control API", "address", configuration.ListenAddress)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- err
			}
		}()
	}

	var runErr error
	select {
	case sig := <-signalChan:
		logger.Infow("Received signal to terminate", "sig", sig)
	case err := <-serverErrors:
		logger.Errorw("Control API failed", "err", err)
		runErr = fmt.Errorf("control API failed: %w", err)
	}

	// A run that is still in flight is not awaited
	state.Scheduler.Stop()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("Failed to shut down control API", "err", err)
		}
	}
	return runErr
}
