package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/config"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/logging"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/retry"
)

const redisPingTimeout = 5 * time.Second

// NewRedisClient connects the result cache's Redis client. It returns a nil
// client when no host is configured, in which case results are cached in
// memory. The first ping is retried with the default backoff.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if cfg == nil || cfg.Host == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	attempt := 0
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Debug("Redis ping failed",
				zap.Int("attempt", attempt),
				zap.String("error", logging.SanitizeError(err)),
			)
			return err
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr(), err)
	}
	return client, nil
}
