package observability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

func newTestProvider(t *testing.T) (*Provider, *tracetest.InMemoryExporter, *sdkmetric.ManualReader) {
	t.Helper()
	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()
	p, err := NewWithProviders(
		sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans)),
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, spans, reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, "vaultd", config.ServiceName)
	assert.Equal(t, "localhost:4317", config.OTLPEndpoint)
	assert.Equal(t, 1.0, config.SampleRate)
	assert.False(t, config.Enabled)
}

func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestDisabled_TrackOperation(t *testing.T) {
	p := Disabled()
	ctx, finish := p.TrackOperation(context.Background(), "vault.submit")
	require.NotNil(t, ctx)
	finish(errors.New("boom"))

	var nilProvider *Provider
	_, finish = nilProvider.TrackOperation(context.Background(), "vault.submit")
	finish(nil)
	assert.NoError(t, nilProvider.Shutdown(context.Background()))
}

func TestTrackOperation_RecordsSpanAndMetrics(t *testing.T) {
	p, spans, reader := newTestProvider(t)
	require.True(t, p.Enabled())

	_, finish := p.TrackOperation(context.Background(), "vault.execute", ActionAttrs(contracts.LaneStandard, 7)...)
	finish(nil)
	_, finish = p.TrackOperation(context.Background(), "vault.execute", ActionAttrs(contracts.LaneStandard, 8)...)
	finish(contracts.ErrNotReady)

	ended := spans.GetSpans()
	require.Len(t, ended, 2)
	assert.Equal(t, "vault.execute", ended[0].Name)
	assert.Contains(t, ended[0].Attributes, AttrActionID.Int64(7))
	assert.Contains(t, ended[0].Attributes, AttrOperation.String("vault.execute"))
	assert.Equal(t, codes.Error, ended[1].Status.Code)

	assert.Equal(t, int64(2), sumOf(t, reader, MetricOperations))
	assert.Equal(t, int64(1), sumOf(t, reader, MetricErrors))
	assert.Equal(t, int64(0), sumOf(t, reader, MetricInFlight))
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "not_ready", ErrorKind(contracts.ErrNotReady))
	assert.Equal(t, "internal", ErrorKind(errors.New("disk")))
}

func TestAddSpanEvent(t *testing.T) {
	p, spans, _ := newTestProvider(t)
	ctx, finish := p.TrackOperation(context.Background(), "vault.confirm")
	AddSpanEvent(ctx, "confirmed", attribute.String("owner", "alice"))
	finish(nil)

	ended := spans.GetSpans()
	require.Len(t, ended, 1)
	require.Len(t, ended[0].Events, 1)
	assert.Equal(t, "confirmed", ended[0].Events[0].Name)
}

func TestTransportCredentials(t *testing.T) {
	creds, err := (&Config{}).transportCredentials()
	require.NoError(t, err)
	assert.Nil(t, creds)

	_, err = (&Config{CertFile: "cert.pem"}).transportCredentials()
	assert.Error(t, err)

	_, err = (&Config{CAFile: filepath.Join(t.TempDir(), "missing.pem")}).transportCredentials()
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a pem"), 0o600))
	_, err = (&Config{CAFile: bad}).transportCredentials()
	assert.Error(t, err)
}
