package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/clinic/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type tracedBatch struct {
	ID                uint   `gorm:"primaryKey"`
	BatchNumber       string `gorm:"size:100"`
	QuantityRemaining int
}

func (tracedBatch) TableName() string { return "traced_batches" }

func setupTracedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&tracedBatch{}))
	return db
}

// installRecorder makes a span recorder the global provider, which otelgorm
// picks up when its plugin is built.
func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, a := range s.Attributes() {
		m[a.Key] = a.Value
	}
	return m
}

func tableSpans(sr *tracetest.SpanRecorder, table string) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan
	for _, s := range sr.Ended() {
		if v, ok := spanAttrs(s)["db.sql.table"]; ok && v.AsString() == table {
			out = append(out, s)
		}
	}
	return out
}

func TestDBTracingConfigFrom(t *testing.T) {
	tests := []struct {
		name string
		in   config.TelemetryConfig
		want DBTracingConfig
	}{
		{
			name: "defaults",
			in:   config.TelemetryConfig{},
			want: DefaultDBTracingConfig(),
		},
		{
			name: "db tracing needs tracing enabled",
			in:   config.TelemetryConfig{DBTraceEnabled: true},
			want: DefaultDBTracingConfig(),
		},
		{
			name: "enabled with custom threshold",
			in: config.TelemetryConfig{
				Enabled:           true,
				DBTraceEnabled:    true,
				DBLogFullSQL:      true,
				DBSlowQueryThresh: 50 * time.Millisecond,
			},
			want: DBTracingConfig{
				Enabled:         true,
				LogFullSQL:      true,
				SlowQueryThresh: 50 * time.Millisecond,
				DBSystem:        "postgresql",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DBTracingConfigFrom(tt.in))
		})
	}
}

func TestNewDBTracingPlugin_FillsDefaults(t *testing.T) {
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, zap.NewNop())
	assert.Equal(t, defaultSlowQueryThresh, p.config.SlowQueryThresh)
	assert.Equal(t, "postgresql", p.config.DBSystem)
}

func TestDBTracingPlugin_Disabled(t *testing.T) {
	sr := installRecorder(t)
	db := setupTracedDB(t)

	require.NoError(t, NewDBTracingPlugin(DefaultDBTracingConfig(), zap.NewNop()).RegisterOtelGorm(db))
	require.NoError(t, db.Create(&tracedBatch{BatchNumber: "AMX-1"}).Error)

	assert.Empty(t, sr.Ended())
}

func TestDBTracingPlugin_AnnotatesStatementSpans(t *testing.T) {
	sr := installRecorder(t)
	db := setupTracedDB(t)
	core, logs := observer.New(zap.InfoLevel)

	plugin := NewDBTracingPlugin(DBTracingConfig{
		Enabled:         true,
		SlowQueryThresh: time.Nanosecond,
		DBSystem:        "sqlite",
	}, zap.New(core))
	require.NoError(t, plugin.RegisterOtelGorm(db))
	assert.Equal(t, 1, logs.FilterMessage("Database tracing enabled").Len())

	ctx, parent := otel.Tracer("test").Start(context.Background(), "stock_transaction.receive")
	require.NoError(t, db.WithContext(ctx).Create(&tracedBatch{BatchNumber: "AMX-1", QuantityRemaining: 40}).Error)
	var found tracedBatch
	require.NoError(t, db.WithContext(ctx).First(&found, "batch_number = ?", "AMX-1").Error)
	parent.End()

	spans := tableSpans(sr, "traced_batches")
	require.Len(t, spans, 2)
	for _, s := range spans {
		attrs := spanAttrs(s)
		assert.Equal(t, int64(1), attrs["db.rows_affected"].AsInt64())
		assert.True(t, attrs["db.slow_query"].AsBool())
		assert.Equal(t, parent.SpanContext().SpanID(), s.Parent().SpanID())

		var slowEvent bool
		for _, e := range s.Events() {
			slowEvent = slowEvent || e.Name == "slow_query_warning"
		}
		assert.True(t, slowEvent)
	}
}

func TestDBTracingPlugin_ErrorStatus(t *testing.T) {
	sr := installRecorder(t)
	db := setupTracedDB(t)
	require.NoError(t, NewDBTracingPlugin(DBTracingConfig{Enabled: true, DBSystem: "sqlite"}, zap.NewNop()).RegisterOtelGorm(db))

	t.Run("record not found is not an error", func(t *testing.T) {
		var missing tracedBatch
		err := db.First(&missing, 99999).Error
		require.ErrorIs(t, err, gorm.ErrRecordNotFound)

		spans := tableSpans(sr, "traced_batches")
		require.NotEmpty(t, spans)
		last := spans[len(spans)-1]
		assert.NotEqual(t, codes.Error, last.Status().Code)
		_, slow := spanAttrs(last)["db.slow_query"]
		assert.False(t, slow)
	})

	t.Run("driver error marks the span", func(t *testing.T) {
		require.Error(t, db.Exec("UPDATE no_such_table SET x = 1").Error)

		var failed bool
		for _, s := range sr.Ended() {
			failed = failed || s.Status().Code == codes.Error
		}
		assert.True(t, failed)
	})
}

func TestDBTracingPlugin_DoubleRegistration(t *testing.T) {
	db := setupTracedDB(t)
	plugin := NewDBTracingPlugin(DBTracingConfig{Enabled: true, DBSystem: "sqlite"}, zap.NewNop())

	require.NoError(t, plugin.RegisterOtelGorm(db))
	assert.Error(t, plugin.RegisterOtelGorm(db))
}

func TestAnnotate_SkipsWithoutRecordingSpan(t *testing.T) {
	db := setupTracedDB(t)
	plugin := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, zap.NewNop())

	assert.NotPanics(t, func() {
		stmt := db.Session(&gorm.Session{})
		stmt.Statement.Context = nil
		plugin.annotate(stmt)

		stmt.Statement.Context = context.Background()
		plugin.annotate(stmt)
	})
}
