package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes directory instruments.
type Metrics struct {
	tenantUsersPropagated metric.Int64Counter
	tenantUsersDeleted    metric.Int64Counter
	idRecordsCreated      metric.Int64Counter
	auditObjects          metric.Int64Counter
	auditFailures         metric.Int64Counter
	tasksDispatched       metric.Int64Counter
	tasksFailed           metric.Int64Counter
	accountsExpired       metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "directory"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&m.tenantUsersPropagated, "directory_tenant_users_propagated_total"},
		{&m.tenantUsersDeleted, "directory_tenant_users_deleted_total"},
		{&m.idRecordsCreated, "directory_tenant_user_id_records_created_total"},
		{&m.auditObjects, "directory_audit_objects_total"},
		{&m.auditFailures, "directory_audit_write_failures_total"},
		{&m.tasksDispatched, "directory_tasks_dispatched_total"},
		{&m.tasksFailed, "directory_tasks_failed_total"},
		{&m.accountsExpired, "directory_tenant_users_expired_total"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

// NewNop returns instruments backed by a no-op provider.
func NewNop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordPropagation counts tenant users written for a tenant; collaboration
// distinguishes owner rows from fanned-out copies.
func (m *Metrics) RecordPropagation(ctx context.Context, count int, collaboration bool) {
	if m == nil || count <= 0 {
		return
	}
	kind := "owner"
	if collaboration {
		kind = "collaboration"
	}
	m.tenantUsersPropagated.Add(ctx, int64(count), metric.WithAttributes(FilterAttributes(attribute.String("kind", kind))...))
}

func (m *Metrics) RecordTenantUsersDeleted(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.tenantUsersDeleted.Add(ctx, int64(count))
}

// RecordAccountsExpired counts users moved to expired by the sweeper.
func (m *Metrics) RecordAccountsExpired(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.accountsExpired.Add(ctx, int64(count))
}

func (m *Metrics) RecordIDRecords(ctx context.Context, rule string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.idRecordsCreated.Add(ctx, int64(count), metric.WithAttributes(FilterAttributes(attribute.String("rule", rule))...))
}

func (m *Metrics) RecordAuditObjects(ctx context.Context, operation string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.auditObjects.Add(ctx, int64(count), metric.WithAttributes(FilterAttributes(attribute.String("operation", operation))...))
}

func (m *Metrics) RecordAuditFailure(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.auditFailures.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("operation", operation))...))
}

func (m *Metrics) RecordTaskDispatched(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.tasksDispatched.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("task", kind))...))
}

func (m *Metrics) RecordTaskFailed(ctx context.Context, kind, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("task", kind),
		attribute.String("reason", reason),
	)
	m.tasksFailed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"kind":      {},
	"rule":      {},
	"operation": {},
	"task":      {},
	"reason":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
