package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tide_imputation"

// Metrics holds the Prometheus counters, histograms, and gauges for an imputation run.
type Metrics struct {
	RegionsProcessed *prometheus.CounterVec // labels: outcome={success,skipped,failed}
	Mappings         prometheus.Counter
	UnmappedPoints   prometheus.Counter
	RunInProgress    prometheus.Gauge

	RegionDuration prometheus.Histogram

	// Artifact delivery.
	ArtifactsWritten   prometheus.Counter
	ArtifactSinkErrors *prometheus.CounterVec // labels: sink={kafka,s3,ledger}

	// Per-region quality, set by LogReporter.
	RegionMeanDistance *prometheus.GaugeVec // labels: region
	RegionMeanWeight   *prometheus.GaugeVec // labels: region
}

// NewMetrics creates and registers all run metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RegionsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regions_processed_total",
			Help:      "Regions handled by the orchestrator, by outcome.",
		}, []string{"outcome"}),
		Mappings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mappings_total",
			Help:      "Total (reference point, gauge) records produced.",
		}),
		UnmappedPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmapped_points_total",
			Help:      "Reference points with no gauge inside the distance cutoff.",
		}),
		RunInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_in_progress",
			Help:      "1 while an imputation run is active, 0 otherwise.",
		}),
		RegionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "region_processing_duration_seconds",
			Help:      "Time to map, weight, and write one region.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		ArtifactsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_written_total",
			Help:      "Parquet artifacts written to the output directory.",
		}),
		ArtifactSinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_sink_errors_total",
			Help:      "Failed artifact publications by sink.",
		}, []string{"sink"}),
		RegionMeanDistance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "region_mean_distance_meters",
			Help:      "Mean point-to-gauge distance of the last run, by region.",
		}, []string{"region"}),
		RegionMeanWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "region_mean_weight",
			Help:      "Mean gauge weight of the last run, by region.",
		}, []string{"region"}),
	}

	prometheus.MustRegister(
		m.RegionsProcessed,
		m.Mappings,
		m.UnmappedPoints,
		m.RunInProgress,
		m.RegionDuration,
		m.ArtifactsWritten,
		m.ArtifactSinkErrors,
		m.RegionMeanDistance,
		m.RegionMeanWeight,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RegionsProcessed:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "regions_processed_total"}, []string{"outcome"}),
		Mappings:           prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "mappings_total"}),
		UnmappedPoints:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "unmapped_points_total"}),
		RunInProgress:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "run_in_progress"}),
		RegionDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "region_processing_duration_seconds"}),
		ArtifactsWritten:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "artifacts_written_total"}),
		ArtifactSinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "artifact_sink_errors_total"}, []string{"sink"}),
		RegionMeanDistance: prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: "region_mean_distance_meters"}, []string{"region"}),
		RegionMeanWeight:   prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: "region_mean_weight"}, []string{"region"}),
	}
}
