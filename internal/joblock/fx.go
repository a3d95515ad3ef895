package joblock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tollgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("joblock",
	fx.Provide(NewLocker),
)

// NewLocker returns a redis backed Locker when REDIS_ADDR is set and an
// in-process one otherwise.
func NewLocker(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Locker {
	if !cfg.RedisEnabled() {
		log.Info("job lock using in-process locker")
		return NewLocalLocker()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("job lock redis ping failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("job lock using redis", zap.String("addr", cfg.RedisAddr))
	return NewRedisLocker(client)
}
