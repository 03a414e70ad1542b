// Package task carries post-commit side effects (credential setup,
// notifications, collaboration backfills) to a background worker.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	"github.com/smallbiznis/directory/pkg/telemetry/correlation"
)

type Kind string

const (
	KindInitializeIdentity  Kind = "initialize_identity"
	KindNotifyPasswordReset Kind = "notify_password_reset"
	KindSyncCollaboration   Kind = "sync_collaboration"
)

// Task is the envelope stored on the queue.
type Task struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	TenantID   string            `json:"tenant_id"`
	Operator   string            `json:"operator"`
	Payload    json.RawMessage   `json:"payload"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// InitializeIdentityPayload asks for credentials of freshly created local users.
type InitializeIdentityPayload struct {
	DataSourceID string   `json:"data_source_id"`
	UserIDs      []string `json:"user_ids"`
}

type NotifyPasswordResetPayload struct {
	UserIDs   []string `json:"user_ids"`
	ValidDays int      `json:"valid_days"`
}

type SyncCollaborationPayload struct {
	SourceTenantID string `json:"source_tenant_id"`
	TargetTenantID string `json:"target_tenant_id"`
}

// New builds a task carrying the tenant, operator and correlation of ctx.
func New(ctx context.Context, kind Kind, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	tenantID, _ := tenantcontext.TenantIDFromContext(ctx)
	return Task{
		ID:         ulid.Make().String(),
		Kind:       kind,
		TenantID:   tenantID,
		Operator:   tenantcontext.OperatorFromContext(ctx),
		Payload:    raw,
		Metadata:   correlation.TaskMetadata(ctx),
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Context rebuilds the request context the task was created under.
func (t Task) Context(ctx context.Context) context.Context {
	ctx = correlation.ContextFromTaskMetadata(ctx, t.Metadata)
	if t.TenantID != "" {
		ctx = tenantcontext.WithTenantID(ctx, t.TenantID)
	}
	if t.Operator != "" {
		ctx = tenantcontext.WithOperator(ctx, t.Operator)
	}
	return ctx
}

// Decode unmarshals the payload into v.
func (t Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Kind, err)
	}
	return nil
}

type Handler func(ctx context.Context, t Task) error

// Registry routes tasks to handlers by kind.
type Registry map[Kind]Handler
