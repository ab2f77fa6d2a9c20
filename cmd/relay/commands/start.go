package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/veilchat/relay/internal/api"
	"github.com/veilchat/relay/internal/logger"
	"github.com/veilchat/relay/internal/scheduler"
	"github.com/veilchat/relay/pkg/blob"
	"github.com/veilchat/relay/pkg/config"
	"github.com/veilchat/relay/pkg/relay/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart()
	},
}

func runStart() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := config.ApplyLogging(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("configuration loaded",
		"environment", string(cfg.Environment),
		"database", string(cfg.Database.Type))

	// Startup is fail-fast: an unreachable database, a bad token TTL,
	// or a default secret in production all exit non-zero before the
	// listener opens.
	relayStore, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := relayStore.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = relayStore.Ping(pingCtx)
	cancelPing()
	if err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	tokenTTL, err := config.ParseTokenTTL(cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	var blobStore blob.Store
	if cfg.Blob.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		s3Store, err := blob.NewS3Store(ctx, cfg.Blob.ToBlobConfig())
		cancel()
		if err != nil {
			return fmt.Errorf("failed to create blob store: %w", err)
		}
		blobStore = s3Store
		logger.Info("blob store enabled", "bucket", cfg.Blob.Bucket)
	} else {
		logger.Info("blob store disabled; file endpoints are off")
	}

	apiServer, err := api.NewServer(api.APIConfig{
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		JWTSecret:       cfg.Auth.JWTSecret,
		TokenTTL:        tokenTTL,
	}, relayStore, blobStore)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	sched := scheduler.New(relayStore)
	sched.Start()
	defer sched.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("relay is running", "port", cfg.Server.Port)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("server stopped")
	}

	return nil
}
