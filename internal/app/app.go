// Package app wires storage, auth, the hub and the HTTP transport into a
// runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/mikeiscool1/vitchat.xyz/internal/auth"
	"github.com/mikeiscool1/vitchat.xyz/internal/config"
	"github.com/mikeiscool1/vitchat.xyz/internal/core"
	"github.com/mikeiscool1/vitchat.xyz/internal/ratelimit"
	"github.com/mikeiscool1/vitchat.xyz/internal/snowflake"
	"github.com/mikeiscool1/vitchat.xyz/internal/store"
	"github.com/mikeiscool1/vitchat.xyz/internal/store/sqlite"
	transporthttp "github.com/mikeiscool1/vitchat.xyz/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with the provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt_secret must be configured")
	}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}

	ids := snowflake.NewGenerator(cfg.WorkerID)
	authService := auth.NewService(st, jwtConfig, ids)

	clk := clock.New()
	hub := core.NewHub(logger, clk)
	limiter := ratelimit.NewLimiter(clk)

	server := transporthttp.NewServer(cfg, transporthttp.Deps{
		Store:   st,
		Auth:    authService,
		Hub:     hub,
		Limiter: limiter,
		IDs:     ids,
		Log:     logger,
	})

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the database and other resources.
func (a *App) cleanup() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	}
}
