package task

import (
	"context"
	"fmt"

	"github.com/smallbiznis/directory/internal/observability/metrics"
	"go.uber.org/zap"
)

// InlineDispatcher runs handlers in the calling goroutine. It is used when
// no redis is configured. Handler failures are logged, not returned, so
// the committed mutation is never reported as failed.
type InlineDispatcher struct {
	registry Registry
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewInlineDispatcher(registry Registry, log *zap.Logger, m *metrics.Metrics) *InlineDispatcher {
	return &InlineDispatcher{registry: registry, log: log.Named("task.inline"), metrics: m}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, kind Kind, payload any) error {
	t, err := New(ctx, kind, payload)
	if err != nil {
		return err
	}
	handler, ok := d.registry[kind]
	if !ok {
		return fmt.Errorf("no handler for task %s", kind)
	}
	d.metrics.RecordTaskDispatched(ctx, string(kind))

	if err := handler(t.Context(context.WithoutCancel(ctx)), t); err != nil {
		d.metrics.RecordTaskFailed(ctx, string(kind), "handler")
		d.log.Error("task failed",
			zap.String("task_id", t.ID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
	return nil
}
