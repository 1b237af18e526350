package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupNoopWhenDisabled(t *testing.T) {
	tp, shutdown, err := Setup(context.Background(), false, "http://localhost:4318", "test-service")
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, isSDK := tp.(*sdktrace.TracerProvider)
	assert.False(t, isSDK)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	_, shutdown, err := Setup(context.Background(), true, "", "test-service")
	require.NoError(t, err)

	// The no-op shutdown ignores a cancelled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, shutdown(ctx))
}

func TestSetupCreatesProvider(t *testing.T) {
	// Non-routable address so nothing is exported
	tp, shutdown, err := Setup(context.Background(), true, "http://192.0.2.1:4318", "test-service")
	require.NoError(t, err)

	_, isSDK := tp.(*sdktrace.TracerProvider)
	assert.True(t, isSDK)
	assert.NoError(t, shutdown(context.Background()))
}
