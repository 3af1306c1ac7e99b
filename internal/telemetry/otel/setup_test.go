package otel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNewProviders_NoEndpointIsLocalOnly(t *testing.T) {
	for _, endpoint := range []string{"", "   "} {
		p, err := NewProviders(context.Background(), Options{Endpoint: endpoint, ServiceName: "test"})
		require.NoError(t, err)
		require.NotNil(t, p.TracerProvider)
		require.NotNil(t, p.MeterProvider)
		require.NotNil(t, p.LoggerProvider)
		require.NoError(t, p.Shutdown(context.Background()))
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		endpoint string
		force    bool
		want     collector
	}{
		{"localhost:4317", false, collector{target: "localhost:4317", insecure: true}},
		{"http://collector:4317", false, collector{target: "collector:4317", insecure: true}},
		{"https://collector:4317/v1/traces", false, collector{target: "collector:4317", insecure: false}},
		{"https://collector:4317", true, collector{target: "collector:4317", insecure: true}},
	}
	for _, tc := range cases {
		got, err := parseEndpoint(tc.endpoint, tc.force)
		require.NoError(t, err, tc.endpoint)
		require.Equal(t, tc.want, got, tc.endpoint)
	}
}

func TestParseEndpoint_Invalid(t *testing.T) {
	for _, endpoint := range []string{"http://", "http://[invalid", "://"} {
		_, err := parseEndpoint(endpoint, false)
		require.Error(t, err, endpoint)
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	_, err := NewProviders(context.Background(), Options{Endpoint: "http://"})
	require.Error(t, err)
}

func TestNewProviders_WithEndpointBuildsExporters(t *testing.T) {
	p, err := NewProviders(context.Background(), Options{
		Endpoint: "localhost:4317", ServiceName: "identity-test", Environment: "test",
	})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestSetGlobal(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	p, err := NewProviders(context.Background(), Options{})
	require.NoError(t, err)
	p.SetGlobal()
	require.Same(t, p.TracerProvider, otel.GetTracerProvider())
	require.Same(t, p.MeterProvider, otel.GetMeterProvider())
}

func TestSetGlobal_PartialProviders(t *testing.T) {
	prevMP := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(prevMP) })

	p, err := NewProviders(context.Background(), Options{})
	require.NoError(t, err)
	(&Providers{MeterProvider: p.MeterProvider}).SetGlobal()
	require.Same(t, p.MeterProvider, otel.GetMeterProvider())
}
