package task

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/directory/internal/config"
	"github.com/smallbiznis/directory/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("task",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
	fx.Provide(NewDispatcher),
	fx.Invoke(RegisterWorker),
)

// NewRedisClient returns nil when no redis address is configured.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.Redis.Addr == "" {
		log.Info("redis not configured, tasks run inline")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

type DispatcherParams struct {
	fx.In

	Config   config.Config
	Client   *redis.Client `optional:"true"`
	Registry Registry
	Log      *zap.Logger
	Metrics  *metrics.Metrics `optional:"true"`
}

func NewDispatcher(p DispatcherParams) Dispatcher {
	if p.Client == nil {
		return NewInlineDispatcher(p.Registry, p.Log, p.Metrics)
	}
	return NewStreamDispatcher(p.Client, p.Config.Redis.TaskStream, p.Metrics)
}

type WorkerParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Client    *redis.Client `optional:"true"`
	Registry  Registry
	Log       *zap.Logger
	Metrics   *metrics.Metrics `optional:"true"`
}

func RegisterWorker(p WorkerParams) {
	if p.Client == nil {
		return
	}
	host, _ := os.Hostname()
	worker := NewWorker(p.Client, p.Registry, WorkerConfig{
		Stream:   p.Config.Redis.TaskStream,
		Group:    p.Config.Redis.ConsumerGroup,
		Consumer: fmt.Sprintf("%s-%d", host, os.Getpid()),
	}, p.Log, p.Metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := worker.Run(ctx); err != nil {
					p.Log.Error("task worker stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
