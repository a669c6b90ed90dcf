package tracing

import (
	"context"
	"testing"

	"github.com/fdg312/siwa-relay/internal/config"
	"github.com/stretchr/testify/require"
)

func TestSetup_NoopWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{ServiceName: "siwa-relay"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, shutdown(ctx))
}

func TestSetup_WithEndpoint(t *testing.T) {
	// Non-routable, nothing is exported because no span is recorded.
	shutdown, err := Setup(context.Background(), config.TracingConfig{
		Endpoint:    "http://192.0.2.1:4318",
		ServiceName: "siwa-relay-test",
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
