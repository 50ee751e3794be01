package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// dbGauges are sampled from Postgres on every scrape.
var dbGauges = []struct {
	name  string
	help  string
	query string
}{
	{
		name:  "revenue_zero_calculations",
		help:  "Stored calculations with zero revenue awaiting recalculation",
		query: "SELECT COUNT(*) FROM revenue_calculations WHERE total_revenue = 0",
	},
	{
		name:  "pricing_pending_versions",
		help:  "Pricing versions left in pending status",
		query: "SELECT COUNT(*) FROM pricing_versions WHERE status = 'pending' AND deleted = FALSE",
	},
}

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, g := range dbGauges {
		query := g.query
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: metricPrefix + g.name, Help: g.help},
			func() float64 { return countRows(db, logger, query) },
		))
	}
}

func countRows(db *sql.DB, logger *zap.Logger, query string) float64 {
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		logger.Warn("metrics query failed", zap.String("query", query), zap.Error(err))
		return 0
	}
	return float64(max(count, 0))
}
