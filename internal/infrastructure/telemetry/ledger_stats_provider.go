package telemetry

import (
	"context"

	"gorm.io/gorm"
)

// GormLedgerStatsProvider aggregates the batches table for ledger gauges
type GormLedgerStatsProvider struct {
	db *gorm.DB
}

// NewGormLedgerStatsProvider creates a new GormLedgerStatsProvider.
func NewGormLedgerStatsProvider(db *gorm.DB) *GormLedgerStatsProvider {
	return &GormLedgerStatsProvider{db: db}
}

// BatchStatsByStatus counts batches and sums remaining units per status
func (p *GormLedgerStatsProvider) BatchStatsByStatus(ctx context.Context) (map[string]BatchStatusStats, error) {
	type result struct {
		Status  string `gorm:"column:status"`
		Batches int64  `gorm:"column:batches"`
		Units   int64  `gorm:"column:units"`
	}

	var results []result
	err := p.db.WithContext(ctx).
		Table("batches").
		Select("status, COUNT(*) AS batches, COALESCE(SUM(quantity_remaining), 0) AS units").
		Group("status").
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	stats := make(map[string]BatchStatusStats, len(results))
	for _, r := range results {
		stats[r.Status] = BatchStatusStats{Batches: r.Batches, Units: r.Units}
	}
	return stats, nil
}

var _ LedgerStatsProvider = (*GormLedgerStatsProvider)(nil)
