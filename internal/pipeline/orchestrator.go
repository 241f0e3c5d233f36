package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/tide-gauge-imputation/internal/domain"
	"github.com/couchcryptid/tide-gauge-imputation/internal/observability"
)

// ReferencePointLoader reads the full reference point dataset.
type ReferencePointLoader interface {
	LoadReferencePoints(ctx context.Context) ([]domain.ReferencePoint, error)
}

// GaugeStationLoader reads the gauge station registry.
type GaugeStationLoader interface {
	LoadGaugeStations(ctx context.Context) ([]domain.GaugeStation, error)
}

// ArtifactWriter persists one region's records as a new artifact and returns
// its location. It must never overwrite an existing artifact.
type ArtifactWriter interface {
	WriteArtifact(ctx context.Context, region string, generatedAt time.Time, records []domain.MappingRecord) (string, error)
}

// Artifact describes a persisted region artifact.
type Artifact struct {
	Region      string
	RegionName  string
	Path        string
	GeneratedAt time.Time
	Records     int
	Summary     domain.RegionSummary
}

// ArtifactSink is notified of every artifact written. Sink failures are
// logged and counted; they never fail the region.
type ArtifactSink interface {
	Name() string
	Publish(ctx context.Context, a Artifact) error
}

// Options tunes an Orchestrator.
type Options struct {
	Workers       int           // <= 0 selects DefaultWorkers
	RegionTimeout time.Duration // 0 disables the per-region deadline
	Sinks         []ArtifactSink

	// Rejected regions never reach a worker; each is logged and reported as
	// failed, keyed by region id.
	Rejected map[string]error

	// Region configuration provenance, logged at the start of a run.
	ConfigSource  string
	ConfigUpdated string
}

// RunReport summarizes the most recent completed run.
type RunReport struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Artifacts  map[string]string `json:"artifacts"`
	Skipped    []string          `json:"skipped"`
	Failed     []string          `json:"failed"`
}

// DefaultWorkers leaves two CPUs for the rest of the host, minimum 1.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()-2)
}

// Orchestrator runs the region processor over every configured region on a
// bounded worker pool and persists one artifact per processed region.
type Orchestrator struct {
	points    ReferencePointLoader
	gauges    GaugeStationLoader
	regions   []domain.Region
	processor *RegionProcessor
	writer    ArtifactWriter
	logger    *slog.Logger
	metrics   *observability.Metrics
	opts      Options
	ready     atomic.Bool
	last      atomic.Pointer[RunReport]
}

// NewOrchestrator creates an Orchestrator with the given stages and observability.
func NewOrchestrator(points ReferencePointLoader, gauges GaugeStationLoader, regions []domain.Region, processor *RegionProcessor, writer ArtifactWriter, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}
	return &Orchestrator{
		points:    points,
		gauges:    gauges,
		regions:   regions,
		processor: processor,
		writer:    writer,
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
	}
}

// CheckReadiness returns nil once the shared inputs are loaded and regions
// are being dispatched.
func (o *Orchestrator) CheckReadiness(_ context.Context) error {
	if !o.ready.Load() {
		return errors.New("inputs not loaded yet")
	}
	return nil
}

// LastRun returns the report of the most recent finished run, or nil.
func (o *Orchestrator) LastRun() *RunReport {
	return o.last.Load()
}

type regionOutcome struct {
	region   domain.Region
	result   *RegionResult
	err      error
	duration time.Duration
}

// Run loads the shared inputs once, processes every region concurrently, and
// returns region id -> artifact path for each region that produced one.
// Load failures abort before dispatch with an empty mapping and the error.
// Region failures are logged and omitted from the mapping.
func (o *Orchestrator) Run(ctx context.Context) (map[string]string, error) {
	artifacts := make(map[string]string)

	o.metrics.RunInProgress.Set(1)
	defer o.metrics.RunInProgress.Set(0)

	points, gauges, err := o.load(ctx)
	if err != nil {
		o.logger.Error("input load failed, aborting run", "error", err)
		return artifacts, err
	}
	o.ready.Store(true)

	generatedAt := clock.Now().UTC()
	o.logger.Info("imputation run started",
		"regions", len(o.regions),
		"rejected_regions", len(o.opts.Rejected),
		"workers", o.opts.Workers,
		"reference_points", len(points),
		"gauge_stations", len(gauges),
		"config_source", o.opts.ConfigSource,
		"config_updated", o.opts.ConfigUpdated,
	)

	report := &RunReport{StartedAt: generatedAt, Artifacts: artifacts, Skipped: []string{}, Failed: []string{}}
	for _, id := range slices.Sorted(maps.Keys(o.opts.Rejected)) {
		err := o.opts.Rejected[id]
		o.metrics.RegionsProcessed.WithLabelValues("failed").Inc()
		o.logger.Error("region configuration rejected", "region", id, "error", err)
		report.Failed = append(report.Failed, id)
	}

	outcomes := make(chan regionOutcome, len(o.regions))
	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	go func() {
		for _, region := range o.regions {
			g.Go(func() error {
				outcomes <- o.processRegion(ctx, region, points, gauges)
				return nil
			})
		}
		_ = g.Wait()
		close(outcomes)
	}()

	for out := range outcomes {
		o.metrics.RegionDuration.Observe(out.duration.Seconds())
		switch {
		case out.err != nil:
			o.metrics.RegionsProcessed.WithLabelValues("failed").Inc()
			o.logger.Error("region processing failed", "region", out.region.ID, "error", out.err)
			report.Failed = append(report.Failed, out.region.ID)
		case out.result == nil:
			o.metrics.RegionsProcessed.WithLabelValues("skipped").Inc()
			report.Skipped = append(report.Skipped, out.region.ID)
		default:
			path, err := o.persist(ctx, out.result, generatedAt)
			if err != nil {
				o.metrics.RegionsProcessed.WithLabelValues("failed").Inc()
				o.logger.Error("artifact write failed", "region", out.region.ID, "error", err)
				report.Failed = append(report.Failed, out.region.ID)
				continue
			}
			o.metrics.RegionsProcessed.WithLabelValues("success").Inc()
			artifacts[out.region.ID] = path
		}
	}
	sort.Strings(report.Skipped)
	sort.Strings(report.Failed)
	report.FinishedAt = clock.Now().UTC()
	o.last.Store(report)

	o.logger.Info("imputation run finished",
		"artifacts", len(artifacts),
		"regions", len(o.regions),
		"duration", clock.Since(generatedAt),
	)
	return artifacts, nil
}

func (o *Orchestrator) load(ctx context.Context) ([]domain.ReferencePoint, []domain.GaugeStation, error) {
	points, err := o.points.LoadReferencePoints(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load reference points: %w", err)
	}
	if len(points) == 0 {
		return nil, nil, &domain.DataError{Dataset: "reference_points", Reason: "dataset is empty"}
	}
	if err := domain.ValidateReferencePoints(points); err != nil {
		return nil, nil, err
	}

	gauges, err := o.gauges.LoadGaugeStations(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load gauge stations: %w", err)
	}
	if len(gauges) == 0 {
		return nil, nil, &domain.DataError{Dataset: "gauge_stations", Reason: "dataset is empty"}
	}
	if err := domain.ValidateGaugeStations(gauges); err != nil {
		return nil, nil, err
	}
	return points, gauges, nil
}

func (o *Orchestrator) processRegion(ctx context.Context, region domain.Region, points []domain.ReferencePoint, gauges []domain.GaugeStation) regionOutcome {
	start := clock.Now()
	if o.opts.RegionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.RegionTimeout)
		defer cancel()
	}
	result, err := o.processor.process(ctx, region, points, gauges)
	return regionOutcome{region: region, result: result, err: err, duration: clock.Since(start)}
}

func (o *Orchestrator) persist(ctx context.Context, result *RegionResult, generatedAt time.Time) (string, error) {
	path, err := o.writer.WriteArtifact(ctx, result.Region.ID, generatedAt, result.Records)
	if err != nil {
		return "", err
	}
	o.metrics.ArtifactsWritten.Inc()
	o.metrics.Mappings.Add(float64(len(result.Records)))
	o.metrics.UnmappedPoints.Add(float64(result.Summary.UnmappedPoints))
	o.logger.Info("artifact written", "region", result.Region.ID, "path", path, "records", len(result.Records))

	artifact := Artifact{
		Region:      result.Region.ID,
		RegionName:  result.Region.Name,
		Path:        path,
		GeneratedAt: generatedAt,
		Records:     len(result.Records),
		Summary:     result.Summary,
	}
	for _, sink := range o.opts.Sinks {
		if err := sink.Publish(ctx, artifact); err != nil {
			o.metrics.ArtifactSinkErrors.WithLabelValues(sink.Name()).Inc()
			o.logger.Warn("artifact sink failed", "region", artifact.Region, "sink", sink.Name(), "error", err)
		}
	}
	return path, nil
}
