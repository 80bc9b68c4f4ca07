// Package monitoring exposes pipeline metrics, warehouse health snapshots, and
// threshold alerts.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/preschool-etl/internal/model"
)

const namespace = "preschool_etl"

// Geocode request outcomes.
const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeError     = "error"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	StageRuns     *prometheus.CounterVec   // labels: stage, outcome={success,failure}
	StageDuration *prometheus.HistogramVec // labels: stage
	LastSuccess   *prometheus.GaugeVec     // labels: stage

	RowsExtracted     prometheus.Counter
	RowsInserted      prometheus.Counter
	DuplicatesDropped prometheus.Counter

	GeocodeRequests    *prometheus.CounterVec // labels: outcome={matched,unmatched,error}
	GeocodeAPIDuration prometheus.Histogram

	PreschoolsExported prometheus.Gauge

	// Warehouse gauges refreshed from store snapshots.
	Warehouse *prometheus.GaugeVec // labels: state={total,addressable,geocoded,failed,pending}
}

// NewMetrics creates all pipeline metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Stage executions by stage and outcome.",
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of a stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful stage run.",
		}, []string{"stage"}),
		RowsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_extracted_total",
			Help:      "Rows produced by the loader after cleaning.",
		}),
		RowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_inserted_total",
			Help:      "Rows newly inserted into the preschools table.",
		}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_dropped_total",
			Help:      "Source rows dropped as exact duplicates.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding requests by outcome.",
		}, []string{"outcome"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Geocoding provider request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		PreschoolsExported: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "preschools_exported",
			Help:      "Records written by the last export.",
		}),
		Warehouse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "warehouse_preschools",
			Help:      "Preschool counts by geocoding state.",
		}, []string{"state"}),
	}

	reg.MustRegister(
		m.StageRuns,
		m.StageDuration,
		m.LastSuccess,
		m.RowsExtracted,
		m.RowsInserted,
		m.DuplicatesDropped,
		m.GeocodeRequests,
		m.GeocodeAPIDuration,
		m.PreschoolsExported,
		m.Warehouse,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error, now time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.StageRuns.WithLabelValues(stage, "failure").Inc()
		return
	}
	m.StageRuns.WithLabelValues(stage, "success").Inc()
	m.LastSuccess.WithLabelValues(stage).Set(float64(now.Unix()))
}

// ObserveLoad records loader row counts.
func (m *Metrics) ObserveLoad(extracted, inserted, duplicates int) {
	if m == nil {
		return
	}
	m.RowsExtracted.Add(float64(extracted))
	m.RowsInserted.Add(float64(inserted))
	m.DuplicatesDropped.Add(float64(duplicates))
}

// ObserveGeocode records one provider request.
func (m *Metrics) ObserveGeocode(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.GeocodeRequests.WithLabelValues(outcome).Inc()
	m.GeocodeAPIDuration.Observe(d.Seconds())
}

// ObserveExport records the size of the last export.
func (m *Metrics) ObserveExport(count int) {
	if m == nil {
		return
	}
	m.PreschoolsExported.Set(float64(count))
}

// SetWarehouse refreshes the warehouse gauges from a stats snapshot.
func (m *Metrics) SetWarehouse(st model.Stats) {
	if m == nil {
		return
	}
	m.Warehouse.WithLabelValues("total").Set(float64(st.Preschools))
	m.Warehouse.WithLabelValues("addressable").Set(float64(st.Addressable))
	m.Warehouse.WithLabelValues("geocoded").Set(float64(st.Geocoded))
	m.Warehouse.WithLabelValues("failed").Set(float64(st.Failed))
	m.Warehouse.WithLabelValues("pending").Set(float64(st.Pending))
}
