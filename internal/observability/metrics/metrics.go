package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "installops_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	pricingResolveTotal   *prometheus.CounterVec
	pricingResolveLatency *prometheus.HistogramVec
	pricingOverlapTotal   *prometheus.CounterVec

	manufacturerCacheEvents *prometheus.CounterVec

	rateUpdateTotal   *prometheus.CounterVec
	rateUpdateLatency *prometheus.HistogramVec

	revenueCalculationTotal   *prometheus.CounterVec
	revenueCalculationLatency *prometheus.HistogramVec

	recalcItemsTotal *prometheus.CounterVec

	closingTotal   *prometheus.CounterVec
	closingLatency *prometheus.HistogramVec

	closingExportTotal   *prometheus.CounterVec
	closingExportLatency *prometheus.HistogramVec
)

// Init registers metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		pricingResolveTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pricing_resolve_total",
				Help: "Total pricing resolutions by kind and result",
			},
			[]string{"kind", "result"},
		)
		pricingResolveLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "pricing_resolve_latency_seconds",
				Help:    "Pricing resolution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		)
		pricingOverlapTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pricing_overlap_total",
				Help: "Resolutions that found overlapping usable versions",
			},
			[]string{"kind"},
		)

		manufacturerCacheEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "manufacturer_cache_events_total",
				Help: "Manufacturer key cache events by type",
			},
			[]string{"event"},
		)

		rateUpdateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rate_update_total",
				Help: "Total rate updates by mode and result",
			},
			[]string{"mode", "result"},
		)
		rateUpdateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "rate_update_latency_seconds",
				Help:    "Rate update latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode", "result"},
		)

		revenueCalculationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "revenue_calculation_total",
				Help: "Total revenue calculations by result",
			},
			[]string{"result"},
		)
		revenueCalculationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "revenue_calculation_latency_seconds",
				Help:    "Revenue calculation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		recalcItemsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "recalc_items_total",
				Help: "Zero-revenue recalculation items by outcome",
			},
			[]string{"outcome"},
		)

		closingTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "closing_total",
				Help: "Total monthly closings by result",
			},
			[]string{"result"},
		)
		closingLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "closing_latency_seconds",
				Help:    "Monthly closing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		closingExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "closing_export_total",
				Help: "Total closing exports by format and result",
			},
			[]string{"format", "result"},
		)
		closingExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "closing_export_latency_seconds",
				Help:    "Closing export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			pricingResolveTotal,
			pricingResolveLatency,
			pricingOverlapTotal,
			manufacturerCacheEvents,
			rateUpdateTotal,
			rateUpdateLatency,
			revenueCalculationTotal,
			revenueCalculationLatency,
			recalcItemsTotal,
			closingTotal,
			closingLatency,
			closingExportTotal,
			closingExportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObservePricingResolve records a resolution. result is "found", "unpriced"
// or "error".
func ObservePricingResolve(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if pricingResolveTotal != nil {
		pricingResolveTotal.WithLabelValues(kind, result).Inc()
	}
	if pricingResolveLatency != nil {
		pricingResolveLatency.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// IncPricingOverlap counts a resolution that hit overlapping versions.
func IncPricingOverlap(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if pricingOverlapTotal != nil {
		pricingOverlapTotal.WithLabelValues(kind).Inc()
	}
}

// IncManufacturerCacheEvent counts a cache hit, miss or eviction.
func IncManufacturerCacheEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if manufacturerCacheEvents != nil {
		manufacturerCacheEvents.WithLabelValues(event).Inc()
	}
}

// ObserveRateUpdate records a single or bulk rate update.
func ObserveRateUpdate(mode, result string, duration time.Duration) {
	if mode == "" {
		mode = "single"
	}
	if result == "" {
		result = resultSuccess
	}
	if rateUpdateTotal != nil {
		rateUpdateTotal.WithLabelValues(mode, result).Inc()
	}
	if rateUpdateLatency != nil {
		rateUpdateLatency.WithLabelValues(mode, result).Observe(duration.Seconds())
	}
}

// ObserveRevenueCalculation records calculation latency and result.
func ObserveRevenueCalculation(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if revenueCalculationTotal != nil {
		revenueCalculationTotal.WithLabelValues(result).Inc()
	}
	if revenueCalculationLatency != nil {
		revenueCalculationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncRecalcItem counts one site processed by the zero-revenue batch.
func IncRecalcItem(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if recalcItemsTotal != nil {
		recalcItemsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveClosing records monthly closing latency and result.
func ObserveClosing(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if closingTotal != nil {
		closingTotal.WithLabelValues(result).Inc()
	}
	if closingLatency != nil {
		closingLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveClosingExport records export latency and result.
func ObserveClosingExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if closingExportTotal != nil {
		closingExportTotal.WithLabelValues(format, result).Inc()
	}
	if closingExportLatency != nil {
		closingExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	ResolveFound    = "found"
	ResolveUnpriced = "unpriced"
	ResolveError    = resultError

	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheEvict = "evict"

	RecalcSuccess = "success"
	RecalcSkipped = "skipped"
	RecalcFailed  = "failed"
)
