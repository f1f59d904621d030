package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"tf2pug/internal/config"
	"tf2pug/internal/constants"
	fxmodules "tf2pug/internal/fx"
	"tf2pug/internal/middleware"
	"tf2pug/internal/server"
	"tf2pug/internal/service"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runServer),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	pugServer *server.PugServer,
	registry *service.Registry,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", middleware.APIKeyHeader, "X-Request-ID"},
	})

	handler := middleware.RequestID(logger)(c.Handler(pugServer.Router()))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:      http.TimeoutHandler(handler, constants.RequestTimeout, `{"error":"request timed out","code":"timeout"}`),
		ReadTimeout:  constants.RequestTimeout,
		WriteTimeout: constants.RequestTimeout + constants.ShutdownTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := registry.Start(ctx); err != nil {
				return fmt.Errorf("failed to start tenants: %w", err)
			}
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
			}

			if err := registry.Stop(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("error stopping tenants")
			}

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}

			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
