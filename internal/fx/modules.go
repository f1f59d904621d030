package fx

import (
	"database/sql"

	"tf2pug/internal/api"
	"tf2pug/internal/config"
	"tf2pug/internal/database"
	"tf2pug/internal/logger"
	"tf2pug/internal/repository"
	"tf2pug/internal/server"
	"tf2pug/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvidePugServer(
	registry *service.Registry,
	bans *service.BanService,
	stats *repository.StatsRepository,
	livelogs *api.LivelogsClient,
	sqlDB *sql.DB,
	logger zerolog.Logger,
) *server.PugServer {
	return server.NewPugServer(server.RegistryLookup(registry), bans, stats, livelogs, sqlDB, logger)
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Invoke(logger.ApplyLevel),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewTenantRepository),
	fx.Provide(repository.NewServerRepository),
	fx.Provide(repository.NewPugRepository),
	fx.Provide(repository.NewStatsRepository),
	fx.Provide(repository.NewBanRepository),
	// api client
	fx.Provide(api.NewLivelogsClient),
	// svc
	fx.Provide(service.NewBanService),
	fx.Provide(service.NewRegistry),
	// server
	fx.Provide(ProvidePugServer),
)
