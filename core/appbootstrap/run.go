package appbootstrap

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"pipewise-ops/api"
	"pipewise-ops/config"
	"pipewise-ops/core/store"
	"pipewise-ops/core/utils"
)

const shutdownGrace = 10 * time.Second

// Run wires the whole application together and blocks until SIGINT/SIGTERM.
func Run(configPath string) error {
	logger := utils.NewLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := store.ApplyMigrations(ctx, cfg, db, logger); err != nil {
		return err
	}

	composition, err := composeRuntime(cfg, db, logger)
	if err != nil {
		return err
	}

	for _, worker := range composition.workers {
		worker.StartWithContext(ctx)
	}

	server := api.NewServer(composition.serverDeps)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s (env=%s)", cfg.ListenAddr, cfg.AppEnv)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	for _, worker := range composition.workers {
		utils.BestEffort(logger, "stop worker", func() error {
			return worker.StopWithContext(shutdownCtx)
		})
	}
	logger.Printf("shutdown complete")
	return nil
}
