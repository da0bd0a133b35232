package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"hiring-pipeline-agents/internal/agent"
	"hiring-pipeline-agents/internal/config"
	"hiring-pipeline-agents/internal/gateway"
	"hiring-pipeline-agents/internal/ratelimit"
)

// agentRuntime holds everything a run or once invocation builds from config.
type agentRuntime struct {
	client     *gateway.Client
	redis      *redis.Client
	schedulers []*agent.Scheduler
}

func buildRuntime(ctx context.Context, cfg config.Config, logger *zap.Logger) (*agentRuntime, error) {
	rt := &agentRuntime{}

	var opts []gateway.Option
	if cfg.RedisAddr != "" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		err := rt.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rt.redis.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		bucket := ratelimit.NewTokenBucket(rt.redis, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
		opts = append(opts, gateway.WithLimiter(bucket))
		logger.Info("status writes throttled",
			zap.String("redis", cfg.RedisAddr),
			zap.Int("capacity", cfg.RateLimitCapacity),
			zap.Float64("refill_per_sec", cfg.RateLimitRefill),
		)
	}
	rt.client = gateway.New(cfg, opts...)

	schedOpts := agent.Options{Interval: cfg.PollInterval, BackoffMax: cfg.BackoffMax}
	if cfg.HeartbeatEnabled {
		schedOpts.Reporter = rt.client
	}
	for _, stage := range cfg.Stages() {
		w, err := agent.NewStageWorker(stage, rt.client, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.schedulers = append(rt.schedulers, agent.NewScheduler(w, schedOpts, logger))
	}
	return rt, nil
}

func (rt *agentRuntime) Close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}
