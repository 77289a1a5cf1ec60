package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"claimreg/internal/platform/config"
)

func TestSetupNoopWhenInactive(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: false, Endpoint: "http://localhost:4318"}, "claimreg")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupCreatesProvider(t *testing.T) {
	// Non-routable address; nothing is exported before shutdown.
	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: true, Endpoint: "http://192.0.2.1:4318", SampleRatio: 1}, "claimreg")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
