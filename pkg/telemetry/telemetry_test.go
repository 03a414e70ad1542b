package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExporterProtocols(t *testing.T) {
	ctx := context.Background()

	for _, protocol := range []string{"", "grpc", "HTTP", "http/protobuf"} {
		exp, err := newExporter(ctx, protocol, "localhost:4317")
		require.NoError(t, err, protocol)
		require.NotNil(t, exp)
		shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
		_ = exp.Shutdown(shutdownCtx)
		cancel()
	}

	_, err := newExporter(ctx, "zipkin", "localhost:4317")
	assert.ErrorContains(t, err, "unsupported OTLP protocol")
}
