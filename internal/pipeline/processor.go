package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/tide-gauge-imputation/internal/domain"
)

// RegionResult is the output of one successfully processed region.
type RegionResult struct {
	Region  domain.Region
	Records []domain.MappingRecord
	Summary domain.RegionSummary
}

// RegionProcessor maps and weights the reference points of one region.
// It holds no per-region state and is safe for concurrent use.
type RegionProcessor struct {
	finder   *domain.GaugeFinder
	weights  *domain.WeightCalculator
	reporter domain.Reporter
	logger   *slog.Logger
}

// NewRegionProcessor validates the weight parameters up front so an invalid
// configuration fails before any region is touched.
func NewRegionProcessor(projections domain.ProjectionRegistry, params domain.WeightParams, reporter domain.Reporter, logger *slog.Logger) (*RegionProcessor, error) {
	calc, err := domain.NewWeightCalculator(params)
	if err != nil {
		return nil, err
	}
	return &RegionProcessor{
		finder:   domain.NewGaugeFinder(projections),
		weights:  calc,
		reporter: reporter,
		logger:   logger,
	}, nil
}

// ProcessRegion returns nil when the region is skipped (no points, no eligible
// gauges, nothing within the cutoff) or fails. Failures, including panics, are
// logged with the region id and never propagate.
func (p *RegionProcessor) ProcessRegion(ctx context.Context, region domain.Region, points []domain.ReferencePoint, gauges []domain.GaugeStation) *RegionResult {
	result, err := p.process(ctx, region, points, gauges)
	if err != nil {
		p.logger.Error("region processing failed", "region", region.ID, "error", err)
		return nil
	}
	return result
}

// process distinguishes a skipped region (nil, nil) from a failed one.
func (p *RegionProcessor) process(ctx context.Context, region domain.Region, points []domain.ReferencePoint, gauges []domain.GaugeStation) (result *RegionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	params := p.weights.Params()
	if r := region.SearchRadiusMeters; r > 0 && r < params.MaxDistanceMeters {
		return nil, &domain.ConfigurationError{
			Region: region.ID,
			Field:  "search_radius_meters",
			Reason: fmt.Sprintf("%g is smaller than the %g m distance cutoff", r, params.MaxDistanceMeters),
		}
	}

	raw, err := p.finder.FindNearest(ctx, points, gauges, region)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		p.logger.Warn("no reference points or eligible gauges, skipping region", "region", region.ID)
		return nil, nil
	}

	weighted, stats := p.weights.CalculateWeights(raw)
	records := domain.FlattenMappings(region, weighted)
	summary := domain.Summarize(region, records, stats)
	if p.reporter != nil {
		p.reporter.ReportRegion(summary)
	}

	if stats.Unmapped > 0 {
		p.logger.Warn("reference points without a gauge inside the cutoff",
			"region", region.ID,
			"unmapped", stats.Unmapped,
			"policy", string(params.Unmapped),
			"max_distance_m", params.MaxDistanceMeters,
		)
	}
	if len(records) == 0 {
		p.logger.Warn("every reference point is unmapped, skipping region", "region", region.ID)
		return nil, nil
	}

	return &RegionResult{Region: region, Records: records, Summary: summary}, nil
}
