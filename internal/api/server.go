// Package api assembles the relay's HTTP surface: router, middleware,
// websocket gateway, and server lifecycle.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/veilchat/relay/internal/api/auth"
	"github.com/veilchat/relay/internal/logger"
	"github.com/veilchat/relay/internal/registry"
	"github.com/veilchat/relay/internal/ws"
	"github.com/veilchat/relay/pkg/blob"
	"github.com/veilchat/relay/pkg/relay/store"
)

// Server provides the relay's HTTP server.
//
// It owns the session registry and websocket gateway, and supports
// graceful shutdown with a configurable timeout.
type Server struct {
	server       *http.Server
	jwtService   *auth.JWTService
	registry     *registry.Registry
	gateway      *ws.Gateway
	relayStore   store.Store
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer creates a new API HTTP server.
//
// The server is created in a stopped state. Call Start() to begin
// serving requests. The blob store may be nil, which disables the file
// endpoints.
func NewServer(config APIConfig, relayStore store.Store, blobs blob.Store) (*Server, error) {
	config.applyDefaults()

	if len(config.JWTSecret) < 32 {
		return nil, fmt.Errorf("session token secret must be at least 32 characters")
	}

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:        config.JWTSecret,
		TokenDuration: config.TokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}

	reg := registry.New()
	gateway := ws.NewGateway(jwtService, relayStore, reg)
	router := NewRouter(jwtService, relayStore, gateway, blobs)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{
		server:     server,
		jwtService: jwtService,
		registry:   reg,
		gateway:    gateway,
		relayStore: relayStore,
		config:     config,
	}, nil
}

// Registry returns the session registry, for tests and diagnostics.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Start starts the API HTTP server and blocks until the context is
// cancelled or the listener fails. Cancellation triggers graceful
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "port", s.config.Port)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// Fresh context: the cancelled one would abort shutdown instantly.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", "error", err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}
