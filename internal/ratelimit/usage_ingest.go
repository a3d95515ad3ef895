package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tollgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyUsageIngestOrg = "tollgate:usage:ingest:org:%s"

// UsageIngestLimiter throttles usage writes per organization. A nil limiter
// allows everything.
type UsageIngestLimiter struct {
	bucket   *TokenBucket
	orgRate  float64
	orgBurst int
}

// NewUsageIngestLimiter returns nil when redis or the rate settings are
// missing.
func NewUsageIngestLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *UsageIngestLimiter {
	limitCfg := cfg.RateLimit
	if limitCfg.UsageIngestOrgRate <= 0 || limitCfg.UsageIngestOrgBurst <= 0 {
		return nil
	}
	if !cfg.RedisEnabled() {
		log.Warn("usage ingest rate limit configured without REDIS_ADDR, limiter disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return &UsageIngestLimiter{
		bucket:   NewTokenBucket(client),
		orgRate:  limitCfg.UsageIngestOrgRate,
		orgBurst: limitCfg.UsageIngestOrgBurst,
	}
}

func (l *UsageIngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *UsageIngestLimiter) AllowOrg(ctx context.Context, orgID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUsageIngestOrg, strings.TrimSpace(orgID)), l.orgRate, l.orgBurst)
}
