package telemetry

import (
	"context"
	"sync"
	"testing"

	"github.com/clinic/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *recordingExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *recordingExporter) Shutdown(context.Context) error   { return nil }
func (e *recordingExporter) ForceFlush(context.Context) error { return nil }

func (e *recordingExporter) bodies() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.records))
	for _, r := range e.records {
		out = append(out, r.Body().AsString())
	}
	return out
}

func recordingProvider(t *testing.T) (*LoggerProvider, *recordingExporter) {
	t.Helper()
	exp := &recordingExporter{}
	lp := &LoggerProvider{
		provider: sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp))),
		logger:   zap.NewNop(),
		config:   LogsConfig{Enabled: true, ServiceName: "clinic-inventory-test"},
	}
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })
	return lp, exp
}

func TestLogsConfigFrom(t *testing.T) {
	cfg := LogsConfigFrom(config.TelemetryConfig{
		Enabled:           true,
		LogsEnabled:       true,
		CollectorEndpoint: "otel:4317",
		ServiceName:       "clinic-inventory",
	})
	assert.Equal(t, LogsConfig{Enabled: true, CollectorEndpoint: "otel:4317", ServiceName: "clinic-inventory"}, cfg)
}

func TestNewLoggerProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	lp, err := NewLoggerProvider(ctx, LogsConfig{ServiceName: "clinic-inventory"}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	assert.Equal(t, "clinic-inventory", lp.GetConfig().ServiceName)
	assert.NoError(t, lp.ForceFlush(ctx))
	assert.NoError(t, lp.Shutdown(ctx))
	assert.NoError(t, lp.Shutdown(ctx))
}

// The exporter buffers until the collector is reachable, so construction succeeds.
func TestNewLoggerProvider_EnabledWithoutCollector(t *testing.T) {
	ctx := context.Background()
	lp, err := NewLoggerProvider(ctx, LogsConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:19999",
		ServiceName:       "clinic-inventory-test",
		Insecure:          true,
	}, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, lp.IsEnabled())
	assert.NoError(t, lp.Shutdown(ctx))
}

func TestNewZapOTELCore(t *testing.T) {
	t.Run("nil provider is a no-op", func(t *testing.T) {
		core := NewZapOTELCore(ZapBridgeConfig{ServiceName: "clinic"})
		assert.False(t, core.Enabled(zapcore.ErrorLevel))
	})

	t.Run("disabled provider is a no-op", func(t *testing.T) {
		lp, err := NewLoggerProvider(context.Background(), LogsConfig{}, zap.NewNop())
		require.NoError(t, err)
		core := NewZapOTELCore(ZapBridgeConfig{LoggerProvider: lp})
		assert.False(t, core.Enabled(zapcore.ErrorLevel))
	})

	t.Run("forwards entries at or above the level", func(t *testing.T) {
		lp, exp := recordingProvider(t)
		core := NewZapOTELCore(ZapBridgeConfig{
			ServiceName:    "clinic-inventory-test",
			LoggerProvider: lp,
			Level:          zapcore.InfoLevel,
		})
		_, filtered := core.(*levelFilterCore)
		assert.True(t, filtered)

		log := zap.New(core)
		log.Debug("fifo plan built")
		log.Info("stock deducted", zap.String("product_id", "p-1"))
		log.Warn("batch expired during sweep")

		assert.Equal(t, []string{"stock deducted", "batch expired during sweep"}, exp.bodies())
	})

	t.Run("debug level is not wrapped", func(t *testing.T) {
		lp, _ := recordingProvider(t)
		core := NewZapOTELCore(ZapBridgeConfig{LoggerProvider: lp, Level: zapcore.DebugLevel})
		_, filtered := core.(*levelFilterCore)
		assert.False(t, filtered)
	})
}

func TestLevelFilterCore(t *testing.T) {
	observed, logs := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: observed, minLevel: zapcore.WarnLevel}

	assert.False(t, core.Enabled(zapcore.InfoLevel))
	assert.True(t, core.Enabled(zapcore.ErrorLevel))

	child := core.With([]zapcore.Field{zap.String("actor", "pharm.lee")})
	lf, ok := child.(*levelFilterCore)
	require.True(t, ok)
	assert.Equal(t, zapcore.WarnLevel, lf.minLevel)

	log := zap.New(child)
	log.Info("dropped")
	log.Warn("recall requested")

	all := logs.All()
	require.Len(t, all, 1)
	assert.Equal(t, "recall requested", all[0].Message)
	assert.Equal(t, "pharm.lee", all[0].ContextMap()["actor"])
}
