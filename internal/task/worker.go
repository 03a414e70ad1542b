package task

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/directory/internal/observability/metrics"
	"github.com/smallbiznis/directory/pkg/log"
	"go.uber.org/zap"
)

type WorkerConfig struct {
	Stream      string
	Group       string
	Consumer    string
	Count       int64
	Block       time.Duration
	MinIdle     time.Duration
	MaxAttempts int64
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Count <= 0 {
		c.Count = 10
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.MinIdle <= 0 {
		c.MinIdle = time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// Worker consumes the task stream. Failed tasks stay pending and are
// reclaimed after MinIdle until MaxAttempts deliveries.
type Worker struct {
	client   *redis.Client
	registry Registry
	cfg      WorkerConfig
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewWorker(client *redis.Client, registry Registry, cfg WorkerConfig, logger *zap.Logger, m *metrics.Metrics) *Worker {
	return &Worker{
		client:   client,
		registry: registry,
		cfg:      cfg.withDefaults(),
		log:      logger.Named("task.worker"),
		metrics:  m,
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := EnsureGroup(ctx, w.client, w.cfg.Stream, w.cfg.Group); err != nil {
		return err
	}

	lastReclaim := time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("poll task stream", zap.Error(err))
			time.Sleep(time.Second)
		}
		if time.Since(lastReclaim) >= w.cfg.MinIdle {
			if _, err := w.Reclaim(ctx); err != nil && ctx.Err() == nil {
				w.log.Error("reclaim pending tasks", zap.Error(err))
			}
			lastReclaim = time.Now()
		}
	}
}

// Poll reads new messages once and returns how many were acknowledged.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	streams, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.cfg.Group,
		Consumer: w.cfg.Consumer,
		Streams:  []string{w.cfg.Stream, ">"},
		Count:    w.cfg.Count,
		Block:    w.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, s := range streams {
		for _, msg := range s.Messages {
			if w.handle(ctx, msg) {
				acked++
			}
		}
	}
	return acked, nil
}

// Reclaim retries messages idle for at least MinIdle and drops those that
// exhausted MaxAttempts.
func (w *Worker) Reclaim(ctx context.Context) (int, error) {
	pending, err := w.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: w.cfg.Stream,
		Group:  w.cfg.Group,
		Idle:   w.cfg.MinIdle,
		Start:  "-",
		End:    "+",
		Count:  w.cfg.Count,
	}).Result()
	if err != nil {
		return 0, err
	}

	var retry []string
	for _, p := range pending {
		if p.RetryCount >= w.cfg.MaxAttempts {
			w.log.Error("task exhausted retries, dropping",
				zap.String("message_id", p.ID),
				zap.Int64("deliveries", p.RetryCount),
			)
			w.metrics.RecordTaskFailed(ctx, "unknown", "exhausted")
			if err := w.client.XAck(ctx, w.cfg.Stream, w.cfg.Group, p.ID).Err(); err != nil {
				return 0, err
			}
			continue
		}
		retry = append(retry, p.ID)
	}
	if len(retry) == 0 {
		return 0, nil
	}

	msgs, err := w.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   w.cfg.Stream,
		Group:    w.cfg.Group,
		Consumer: w.cfg.Consumer,
		MinIdle:  w.cfg.MinIdle,
		Messages: retry,
	}).Result()
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, msg := range msgs {
		if w.handle(ctx, msg) {
			acked++
		}
	}
	return acked, nil
}

// handle runs one message and acks it unless the handler failed.
func (w *Worker) handle(ctx context.Context, msg redis.XMessage) bool {
	t, err := decodeMessage(msg)
	if err != nil {
		w.log.Error("undecodable task, dropping", zap.String("message_id", msg.ID), zap.Error(err))
		w.metrics.RecordTaskFailed(ctx, "unknown", "decode")
		return w.ack(ctx, msg.ID)
	}

	taskCtx := t.Context(ctx)
	logger := log.With(taskCtx, w.log).With(
		zap.String("task_id", t.ID),
		zap.String("kind", string(t.Kind)),
		zap.String("message_id", msg.ID),
	)

	handler, ok := w.registry[t.Kind]
	if !ok {
		logger.Error("no handler for task, dropping")
		w.metrics.RecordTaskFailed(ctx, string(t.Kind), "unknown_kind")
		return w.ack(ctx, msg.ID)
	}

	if err := handler(taskCtx, t); err != nil {
		if errors.Is(err, ErrLocked) {
			logger.Info("task busy, will retry")
		} else {
			logger.Error("task failed", zap.Error(err))
			w.metrics.RecordTaskFailed(ctx, string(t.Kind), "handler")
		}
		return false
	}
	logger.Debug("task done")
	return w.ack(ctx, msg.ID)
}

func (w *Worker) ack(ctx context.Context, id string) bool {
	if err := w.client.XAck(ctx, w.cfg.Stream, w.cfg.Group, id).Err(); err != nil {
		w.log.Error("ack task", zap.String("message_id", id), zap.Error(err))
		return false
	}
	return true
}
