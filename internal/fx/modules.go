package fx

import (
	"context"
	"database/sql"
	"fmt"
	"rival-tracker/internal/api"
	"rival-tracker/internal/config"
	"rival-tracker/internal/constants"
	"rival-tracker/internal/database"
	"rival-tracker/internal/logger"
	"rival-tracker/internal/metrics"
	"rival-tracker/internal/repository"
	"rival-tracker/internal/scheduler"
	"rival-tracker/internal/server"
	"rival-tracker/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideIngester(client *api.Client, matches *repository.MatchRepository, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) *service.Ingester {
	return service.NewIngester(client, matches, m, logger, service.WithStopAtKnown(cfg.SyncStopAtKnown))
}

// ProvideLocker returns the in-process locker unless REDIS_ADDR is set, in
// which case refreshes are serialized across every replica sharing Redis.
func ProvideLocker(lc fx.Lifecycle, cfg *config.Config, logger zerolog.Logger) (service.Locker, error) {
	if cfg.RedisAddr == "" {
		logger.Info().Msg("using in-process player lock")
		return service.NewKeyedLocker(), nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
			}
			logger.Info().Str("addr", cfg.RedisAddr).Msg("using redis player lock")
			return nil
		},
		OnStop: func(context.Context) error {
			return rdb.Close()
		},
	})
	return service.NewRedisLocker(rdb, logger), nil
}

func ProvideProfileService(
	client *api.Client,
	players *repository.PlayerRepository,
	matches *repository.MatchRepository,
	aggregates *repository.AggregateRepository,
	ingester *service.Ingester,
	locker service.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *service.ProfileService {
	return service.NewProfileService(client, players, matches, aggregates, ingester, locker, m, logger)
}

func ProvideProfileServer(profiles *service.ProfileService, players *repository.PlayerRepository, m *metrics.Metrics, logger zerolog.Logger) *server.ProfileServer {
	return server.NewProfileServer(profiles, players, m.Handler(), logger)
}

func ProvideScheduler(lc fx.Lifecycle, players *repository.PlayerRepository, profiles *service.ProfileService, cfg *config.Config, logger zerolog.Logger) *scheduler.Scheduler {
	s := scheduler.New(players, profiles, cfg, logger)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return s.Start() },
		OnStop:  func(context.Context) error { return s.Stop() },
	})
	return s
}

func ProvideRepositories(sqlDB *sql.DB, logger zerolog.Logger) (*repository.PlayerRepository, *repository.MatchRepository, *repository.AggregateRepository) {
	return repository.NewPlayerRepository(sqlDB, logger),
		repository.NewMatchRepository(sqlDB, logger),
		repository.NewAggregateRepository(sqlDB, logger)
}

// CloseDatabase is invoked ahead of every other hook so the database is
// closed last, after the server and scheduler have stopped.
func CloseDatabase(lc fx.Lifecycle, sqlDB *sql.DB, logger zerolog.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if err := sqlDB.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}
			return nil
		},
	})
}

var Module = fx.Options(
	logger.Module,
	config.Module,
	metrics.Module,
	fx.Provide(database.New),
	fx.Invoke(CloseDatabase),
	// repos
	fx.Provide(ProvideRepositories),
	// api client
	fx.Provide(api.NewRateGateFromConfig),
	fx.Provide(api.NewClient),
	// svc
	fx.Provide(ProvideIngester),
	fx.Provide(ProvideLocker),
	fx.Provide(ProvideProfileService),
	fx.Provide(ProvideScheduler),
	// server
	fx.Provide(ProvideProfileServer),
)
