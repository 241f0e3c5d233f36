package observability

import (
	"log/slog"

	"github.com/couchcryptid/tide-gauge-imputation/internal/domain"
)

// LogReporter writes region statistics to the run log and the per-region
// quality gauges.
type LogReporter struct {
	logger  *slog.Logger
	metrics *Metrics
}

// NewLogReporter creates a reporter. metrics may be nil.
func NewLogReporter(logger *slog.Logger, metrics *Metrics) *LogReporter {
	return &LogReporter{logger: logger, metrics: metrics}
}

// ReportRegion implements domain.Reporter.
func (r *LogReporter) ReportRegion(s domain.RegionSummary) {
	r.logger.Info("region statistics",
		"region", s.Region,
		"region_name", s.RegionName,
		"reference_points", s.ReferencePoints,
		"mapped_points", s.MappedPoints,
		"unmapped_points", s.UnmappedPoints,
		"fallback_points", s.FallbackPoints,
		"point_coverage_pct", s.PointCoverage,
		"counties", s.Counties,
		"region_counties", s.RegionCounties,
		"uncovered_counties", s.UncoveredCounties,
		"stations", s.Stations,
		"mappings", s.Mappings,
		"mean_distance_m", s.MeanDistance,
		"mean_weight", s.MeanWeight,
	)
	for _, sub := range s.SubRegions {
		r.logger.Info("sub-region statistics",
			"region", s.Region,
			"sub_region", sub.SubRegion,
			"counties", sub.Counties,
			"stations", sub.Stations,
			"mappings", sub.Mappings,
			"mean_distance_m", sub.MeanDistance,
			"mean_weight", sub.MeanWeight,
		)
	}

	if r.metrics == nil {
		return
	}
	r.metrics.RegionMeanDistance.WithLabelValues(s.Region).Set(s.MeanDistance)
	r.metrics.RegionMeanWeight.WithLabelValues(s.Region).Set(s.MeanWeight)
}
