package correlation

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

type correlationKey struct{}

// HeaderName carries the correlation id across HTTP hops.
const HeaderName = "X-Correlation-ID"

func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID guarantees a correlation ID on the context, generating one when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}

// TaskMetadata returns the identifiers propagated with an async task so the
// worker can continue the same correlation and trace.
func TaskMetadata(ctx context.Context) map[string]string {
	_, cid := EnsureCorrelationID(ctx)
	meta := map[string]string{"correlation_id": cid}
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		meta["trace_id"] = sc.TraceID().String()
		meta["span_id"] = sc.SpanID().String()
	}
	return meta
}

// ContextFromTaskMetadata restores what TaskMetadata captured.
func ContextFromTaskMetadata(ctx context.Context, meta map[string]string) context.Context {
	ctx = ContextWithCorrelationID(ctx, meta["correlation_id"])
	return ContextWithRemoteSpan(ctx, meta["trace_id"], meta["span_id"])
}

// ContextWithRemoteSpan seeds the context with a remote span if valid identifiers are provided.
func ContextWithRemoteSpan(ctx context.Context, traceIDHex, spanIDHex string) context.Context {
	if traceIDHex == "" || spanIDHex == "" {
		return ctx
	}

	traceID, err := trace.TraceIDFromHex(traceIDHex)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(spanIDHex)
	if err != nil {
		return ctx
	}

	parent := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled, Remote: true})
	return trace.ContextWithSpanContext(ctx, parent)
}
