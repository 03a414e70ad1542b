package task

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/directory/internal/observability/metrics"
)

const fieldTask = "task"

// StreamDispatcher appends tasks to a redis stream.
type StreamDispatcher struct {
	client  *redis.Client
	stream  string
	metrics *metrics.Metrics
}

func NewStreamDispatcher(client *redis.Client, stream string, m *metrics.Metrics) *StreamDispatcher {
	return &StreamDispatcher{client: client, stream: stream, metrics: m}
}

func (d *StreamDispatcher) Dispatch(ctx context.Context, kind Kind, payload any) error {
	t, err := New(ctx, kind, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	err = d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		Values: map[string]any{fieldTask: string(raw)},
	}).Err()
	if err != nil {
		d.metrics.RecordTaskFailed(ctx, string(kind), "enqueue")
		return err
	}
	d.metrics.RecordTaskDispatched(ctx, string(kind))
	return nil
}

// EnsureGroup creates the consumer group, and the stream if needed.
func EnsureGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func decodeMessage(msg redis.XMessage) (Task, error) {
	raw, ok := msg.Values[fieldTask].(string)
	if !ok {
		return Task{}, errors.New("stream message has no task field")
	}
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Task{}, err
	}
	return t, nil
}
