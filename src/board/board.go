package board

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/kasboard/kasboard/src/api"
	"github.com/kasboard/kasboard/src/burnwatcher"
	"github.com/kasboard/kasboard/src/clock"
	"github.com/kasboard/kasboard/src/common"
	"github.com/kasboard/kasboard/src/engine"
	"github.com/kasboard/kasboard/src/events"
	"github.com/kasboard/kasboard/src/kaspaapi"
	"github.com/kasboard/kasboard/src/oracle"
	"github.com/kasboard/kasboard/src/postgres"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type BoardConfig struct {
	common.CommonConfig `yaml:",inline"`

	ApiPort      string `yaml:"api_port"`
	BackfillFrom string `yaml:"backfill_from"` // block hash to reindex burns from, optional

	Engine engine.Config `yaml:"engine"`
}

func configureRedis(path string) (*redis.Client, error) {
	rd := redis.NewClient(&redis.Options{
		Addr: path,
		DB:   0, // use default DB
	})
	if err := rd.Ping(context.Background()); err.Err() != nil {
		return nil, errors.Wrap(err.Err(), "failed to ping redis")
	}

	return rd, nil
}

func ListenAndServe(cfg BoardConfig) error {
	logger := common.ConfigureZap(common.LevelFromFlag(cfg.Debug))
	if cfg.PromPort != "" {
		engine.StartPromServer(logger, cfg.PromPort)
	}
	ksApi, err := kaspaapi.NewKaspaAPI(cfg.RPCServer, logger)
	if err != nil {
		return err
	}
	pg := postgres.NewPostgresStore(cfg.PostgresConfig)

	var rd *redis.Client
	if cfg.RedisConfig != "" {
		rd, err = configureRedis(cfg.RedisConfig)
		if err != nil {
			return errors.Wrap(err, "failed connecting to redis")
		}
	}

	bus := events.NewBus(logger)
	defer bus.Stop()
	clk := clock.NewSystemClock()
	orc := oracle.NewKaspaOracle(ksApi, pg, logger)
	eng := engine.New(cfg.Engine, pg, orc, clk, bus, logger)
	if rd != nil {
		eng.SetRankCache(engine.NewLeaderboardCache(rd))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := burnwatcher.NewWatcher(ksApi, pg, cfg.BurnAddress, logger)
	go func() {
		if err := watcher.Start(ctx, cfg.BackfillFrom); err != nil {
			logger.Error("failed starting burn watcher", zap.Error(err))
		}
	}()

	server := api.NewServer(eng, pg, rd, logger)
	if cfg.HealthCheckPort != "" {
		logger.Info("enabling health check on port " + cfg.HealthCheckPort)
		server.StartReadyzHandler(cfg.HealthCheckPort)
	}
	return server.ListenAndServe(cfg.ApiPort)
}
