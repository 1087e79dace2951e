package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clinic/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newDBMetrics(t *testing.T, cfg DBMetricsConfig) (*DBMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewDBMetrics(provider.Meter("test"), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m, reader
}

// int64Points returns data points of an int64 sum or gauge keyed by the
// value of attribute key (empty for unlabelled points).
func int64Points(t *testing.T, reader *sdkmetric.ManualReader, name string, key attribute.Key) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			var points []metricdata.DataPoint[int64]
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				points = data.DataPoints
			case metricdata.Gauge[int64]:
				points = data.DataPoints
			}
			for _, dp := range points {
				v, _ := dp.Attributes.Value(key)
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestDBMetricsConfigFrom(t *testing.T) {
	assert.Equal(t, DBMetricsConfig{
		Enabled:            true,
		SlowQueryThreshold: 75 * time.Millisecond,
		PoolStatsInterval:  defaultPoolStatsInterval,
	}, DBMetricsConfigFrom(config.TelemetryConfig{MetricsEnabled: true, DBSlowQueryThresh: 75 * time.Millisecond}))

	cfg := DBMetricsConfigFrom(config.TelemetryConfig{})
	assert.False(t, cfg.Enabled)
	assert.Equal(t, defaultSlowQueryThresh, cfg.SlowQueryThreshold)
}

func TestNewDBMetrics_AppliesDefaults(t *testing.T) {
	m, _ := newDBMetrics(t, DBMetricsConfig{})
	assert.Equal(t, defaultSlowQueryThresh, m.config.SlowQueryThreshold)
	assert.Equal(t, defaultPoolStatsInterval, m.config.PoolStatsInterval)
}

func TestDBMetrics_RecordQuery(t *testing.T) {
	ctx := context.Background()
	m, reader := newDBMetrics(t, DBMetricsConfig{SlowQueryThreshold: 100 * time.Millisecond})

	m.RecordQuery(ctx, "select", "batches", 5*time.Millisecond, nil)
	m.RecordQuery(ctx, "SELECT", "batches", 150*time.Millisecond, gorm.ErrRecordNotFound)
	m.RecordQuery(ctx, "update", "batches", time.Millisecond, errors.New("deadlock detected"))
	m.RecordQuery(ctx, "", "", 300*time.Millisecond, nil)

	assert.Equal(t, map[string]int64{"SELECT": 2, "UPDATE": 1, "UNKNOWN": 1},
		int64Points(t, reader, "db_query_total", AttrDBOperation))
	assert.Equal(t, map[string]int64{"UPDATE": 1},
		int64Points(t, reader, "db_query_errors_total", AttrDBOperation))
	assert.Equal(t, map[string]int64{"batches": 1, "unknown": 1},
		int64Points(t, reader, "db_slow_query_total", AttrDBTable))
}

func TestDBMetrics_PoolStats(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	sqlDB.SetMaxOpenConns(8)

	m, reader := newDBMetrics(t, DBMetricsConfig{PoolStatsInterval: time.Hour})

	t.Run("without sql.DB nothing starts", func(t *testing.T) {
		m.StartPoolStatsCollection(context.Background())
		assert.Empty(t, int64Points(t, reader, "db_pool_connections_max", AttrDBState))
	})

	t.Run("collects on start", func(t *testing.T) {
		m.SetSQLDB(sqlDB)
		m.StartPoolStatsCollection(context.Background())

		assert.Eventually(t, func() bool {
			return int64Points(t, reader, "db_pool_connections_max", AttrDBState)[""] == 8
		}, time.Second, 10*time.Millisecond)
		states := int64Points(t, reader, "db_pool_connections", AttrDBState)
		assert.Contains(t, states, "idle")
		assert.Contains(t, states, "in_use")
		assert.Contains(t, states, "open")
	})
}

func TestDBMetrics_StopIdempotent(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	m, _ := newDBMetrics(t, DBMetricsConfig{PoolStatsInterval: 5 * time.Millisecond})
	m.SetSQLDB(sqlDB)
	m.StartPoolStatsCollection(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Stop()
		}()
	}
	wg.Wait()
}

func TestDBMetricsPlugin(t *testing.T) {
	db := setupTracedDB(t)
	m, reader := newDBMetrics(t, DBMetricsConfig{SlowQueryThreshold: time.Hour})

	plugin := NewDBMetricsPlugin(m, nil)
	assert.Equal(t, "db_metrics", plugin.Name())
	require.NoError(t, db.Use(plugin))

	require.NoError(t, db.Create(&tracedBatch{BatchNumber: "FLU-3", QuantityRemaining: 12}).Error)
	var found tracedBatch
	require.NoError(t, db.First(&found).Error)
	require.NoError(t, db.Model(&found).Update("quantity_remaining", 10).Error)
	require.ErrorIs(t, db.First(&found, 999).Error, gorm.ErrRecordNotFound)

	assert.Equal(t, map[string]int64{"INSERT": 1, "SELECT": 2, "UPDATE": 1},
		int64Points(t, reader, "db_query_total", AttrDBOperation))
	assert.Empty(t, int64Points(t, reader, "db_query_errors_total", AttrDBOperation))
}

func TestDetectOperationType(t *testing.T) {
	tests := []struct {
		sql  string
		want string
	}{
		{`SELECT * FROM "batches"`, "SELECT"},
		{`  insert into "audit_outbox" values (1)`, "INSERT"},
		{`UPDATE "batches" SET "status"='expired'`, "UPDATE"},
		{`DELETE FROM "audit_outbox" WHERE id = 1`, "DELETE"},
		{`CREATE INDEX idx_batches_expiry ON batches`, "OTHER"},
		{``, "OTHER"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectOperationType(tt.sql), tt.sql)
	}
}

func TestRegisterDBMetrics(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled config", func(t *testing.T) {
		m, err := RegisterDBMetrics(setupTracedDB(t), nil, DBMetricsConfig{}, zap.NewNop())
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("disabled meter provider", func(t *testing.T) {
		mp, err := NewMeterProvider(ctx, MetricsConfig{}, zap.NewNop())
		require.NoError(t, err)

		m, err := RegisterDBMetrics(setupTracedDB(t), mp, DefaultDBMetricsConfig(), zap.NewNop())
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("enabled", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		mp := &MeterProvider{
			provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
			logger:   zap.NewNop(),
			config:   MetricsConfig{Enabled: true},
		}
		t.Cleanup(func() { _ = mp.Shutdown(ctx) })

		db := setupTracedDB(t)
		m, err := RegisterDBMetrics(db, mp, DefaultDBMetricsConfig(), zap.NewNop())
		require.NoError(t, err)
		require.NotNil(t, m)
		defer m.Stop()

		var count int64
		require.NoError(t, db.Model(&tracedBatch{}).Count(&count).Error)
		assert.Equal(t, int64(1), int64Points(t, reader, "db_query_total", AttrDBOperation)["SELECT"])
	})
}
