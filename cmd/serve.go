package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"workflow_tracker/internal/api"
	"workflow_tracker/internal/core"
	"workflow_tracker/internal/logger"
	"workflow_tracker/internal/storage"
	"workflow_tracker/internal/workflow"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the callback and poll endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	trackers, err := loadTrackers()
	if err != nil {
		return err
	}

	factory := core.MemoryStores()
	if cfg.StoreConfig.Backend == "redis" {
		client, err := storage.NewRedisClient(ctx, cfg.StoreConfig.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		factory = core.RedisStores(client)
	} else {
		logger.Warn().Msg("memory store: sessions are lost on restart and not shared between instances")
	}

	registry, err := core.NewRegistry(trackers, factory, core.RegistryOptions{
		TTL:               cfg.StoreConfig.SessionTTL,
		LazySweepInterval: cfg.StoreConfig.SweepInterval,
	})
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()
	registry.StartSweepers(ctx, cfg.StoreConfig.SweepInterval)

	server := api.NewServer(registry, api.Options{
		PublicBaseURL: cfg.ServerConfig.PublicBaseURL,
		MaxBodyBytes:  cfg.ServerConfig.MaxBodyBytes,
		Trigger:       workflow.NewClient(nil),
	})

	httpServer := &http.Server{
		Addr:         cfg.ServerConfig.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.ServerConfig.ReadTimeout,
		WriteTimeout: cfg.ServerConfig.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ServerConfig.Addr).
			Str("backend", cfg.StoreConfig.Backend).
			Strs("trackers", registry.Names()).
			Msg("tracker listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ServerConfig.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
