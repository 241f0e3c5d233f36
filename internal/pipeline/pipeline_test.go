package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tide-gauge-imputation/internal/config"
	"github.com/couchcryptid/tide-gauge-imputation/internal/domain"
	"github.com/couchcryptid/tide-gauge-imputation/internal/observability"
	"github.com/couchcryptid/tide-gauge-imputation/internal/pipeline"
)

// --- fakes ---

type staticPoints struct {
	points []domain.ReferencePoint
	err    error
}

func (s staticPoints) LoadReferencePoints(context.Context) ([]domain.ReferencePoint, error) {
	return s.points, s.err
}

type staticGauges struct {
	gauges []domain.GaugeStation
	err    error
}

func (s staticGauges) LoadGaugeStations(context.Context) ([]domain.GaugeStation, error) {
	return s.gauges, s.err
}

type memWriter struct {
	mu      sync.Mutex
	written map[string][]domain.MappingRecord
	stamps  map[string]time.Time
	fail    map[string]bool
}

func newMemWriter() *memWriter {
	return &memWriter{
		written: make(map[string][]domain.MappingRecord),
		stamps:  make(map[string]time.Time),
		fail:    make(map[string]bool),
	}
}

func (w *memWriter) WriteArtifact(_ context.Context, region string, generatedAt time.Time, records []domain.MappingRecord) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail[region] {
		return "", errors.New("disk full")
	}
	w.written[region] = records
	w.stamps[region] = generatedAt
	return "mem://" + region + "/" + generatedAt.Format("20060102_150405"), nil
}

type recordingReporter struct {
	mu        sync.Mutex
	summaries []domain.RegionSummary
}

func (r *recordingReporter) ReportRegion(s domain.RegionSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
}

type panickingReporter struct{}

func (panickingReporter) ReportRegion(domain.RegionSummary) { panic("reporter exploded") }

type recordingSink struct {
	mu        sync.Mutex
	name      string
	err       error
	published []pipeline.Artifact
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, a pipeline.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, a)
	return s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fixtures ---

var (
	midAtlantic = domain.Region{ID: "mid_atlantic", Name: "Mid-Atlantic", StateCodes: []string{"24", "51"}}
	gulf        = domain.Region{ID: "gulf", Name: "Gulf Coast", StateCodes: []string{"12", "01"}}
	empty       = domain.Region{ID: "great_lakes", Name: "Great Lakes", StateCodes: []string{"26"}}
)

func fixturePoints() []domain.ReferencePoint {
	return []domain.ReferencePoint{
		{ID: "ma-1", Geo: domain.Geo{Lat: 38.98, Lon: -76.48}, CountyFIPS: "24003"},
		{ID: "ma-2", Geo: domain.Geo{Lat: 37.00, Lon: -76.30}, CountyFIPS: "51700"},
		{ID: "gu-1", Geo: domain.Geo{Lat: 30.40, Lon: -87.20}, CountyFIPS: "12033"},
		{ID: "gu-2", Geo: domain.Geo{Lat: 30.25, Lon: -88.07}, CountyFIPS: "01097"},
	}
}

func fixtureGauges() []domain.GaugeStation {
	return []domain.GaugeStation{
		{ID: "8575512", Name: "Annapolis", Geo: domain.Geo{Lat: 38.983, Lon: -76.481}},
		{ID: "8638610", Name: "Sewells Point", Geo: domain.Geo{Lat: 36.947, Lon: -76.330}},
		{ID: "8729840", Name: "Pensacola", Geo: domain.Geo{Lat: 30.404, Lon: -87.211}},
		{ID: "8735180", Name: "Dauphin Island", Geo: domain.Geo{Lat: 30.250, Lon: -88.075}},
	}
}

func newProcessor(t *testing.T, projections domain.ProjectionRegistry, reporter domain.Reporter) *pipeline.RegionProcessor {
	t.Helper()
	p, err := pipeline.NewRegionProcessor(projections, domain.DefaultWeightParams(), reporter, discardLogger())
	require.NoError(t, err)
	return p
}

func freezeClock(t *testing.T) time.Time {
	t.Helper()
	now := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	pipeline.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { pipeline.SetClock(nil) })
	return now
}

// --- RegionProcessor ---

func TestProcessRegion_HappyPath(t *testing.T) {
	reporter := &recordingReporter{}
	p := newProcessor(t, domain.DefaultProjectionRegistry(), reporter)

	res := p.ProcessRegion(context.Background(), midAtlantic, fixturePoints(), fixtureGauges())
	require.NotNil(t, res)

	assert.Equal(t, "mid_atlantic", res.Region.ID)
	require.NotEmpty(t, res.Records)
	for _, r := range res.Records {
		assert.Equal(t, "mid_atlantic", r.Region)
		assert.Equal(t, "Mid-Atlantic", r.RegionName)
		assert.GreaterOrEqual(t, r.Weight, 0.1)
		assert.LessOrEqual(t, r.Weight, 1.0)
		assert.LessOrEqual(t, r.DistanceMeters, 100000.0)
	}
	// Each point's nearest gauge comes first.
	assert.Equal(t, "ma-1", res.Records[0].ReferencePointID)
	assert.Equal(t, "8575512", res.Records[0].StationID)

	require.Len(t, reporter.summaries, 1)
	assert.Equal(t, res.Summary, reporter.summaries[0])
	assert.Equal(t, 2, res.Summary.ReferencePoints)
	assert.Equal(t, len(res.Records), res.Summary.Mappings)
}

func TestProcessRegion_NoMatchingPoints(t *testing.T) {
	reporter := &recordingReporter{}
	p := newProcessor(t, domain.DefaultProjectionRegistry(), reporter)

	assert.Nil(t, p.ProcessRegion(context.Background(), empty, fixturePoints(), fixtureGauges()))
	assert.Empty(t, reporter.summaries)
}

func TestProcessRegion_NoGauges(t *testing.T) {
	p := newProcessor(t, domain.DefaultProjectionRegistry(), nil)
	assert.Nil(t, p.ProcessRegion(context.Background(), midAtlantic, fixturePoints(), nil))
}

func TestProcessRegion_MissingProjection(t *testing.T) {
	p := newProcessor(t, domain.ProjectionRegistry{}, nil)
	assert.Nil(t, p.ProcessRegion(context.Background(), midAtlantic, fixturePoints(), fixtureGauges()))
}

func TestProcessRegion_SearchRadiusBelowCutoff(t *testing.T) {
	p := newProcessor(t, domain.DefaultProjectionRegistry(), nil)
	region := midAtlantic
	region.SearchRadiusMeters = 20000
	assert.Nil(t, p.ProcessRegion(context.Background(), region, fixturePoints(), fixtureGauges()))

	region.SearchRadiusMeters = 150000
	assert.NotNil(t, p.ProcessRegion(context.Background(), region, fixturePoints(), fixtureGauges()))
}

func TestProcessRegion_RecoversPanic(t *testing.T) {
	p := newProcessor(t, domain.DefaultProjectionRegistry(), panickingReporter{})
	assert.NotPanics(t, func() {
		assert.Nil(t, p.ProcessRegion(context.Background(), midAtlantic, fixturePoints(), fixtureGauges()))
	})
}

func TestProcessRegion_AllUnmapped(t *testing.T) {
	far := []domain.GaugeStation{{ID: "9410170", Name: "San Diego", Geo: domain.Geo{Lat: 32.71, Lon: -117.17}}}

	p := newProcessor(t, domain.DefaultProjectionRegistry(), nil)
	assert.Nil(t, p.ProcessRegion(context.Background(), midAtlantic, fixturePoints(), far))

	params := domain.DefaultWeightParams()
	params.Unmapped = domain.UnmappedNearest
	nearest, err := pipeline.NewRegionProcessor(domain.DefaultProjectionRegistry(), params, nil, discardLogger())
	require.NoError(t, err)

	res := nearest.ProcessRegion(context.Background(), midAtlantic, fixturePoints(), far)
	require.NotNil(t, res)
	require.Len(t, res.Records, 2)
	for _, r := range res.Records {
		assert.True(t, r.Fallback)
		assert.Equal(t, "9410170", r.StationID)
		assert.Equal(t, 0.1, r.Weight)
	}
	assert.Equal(t, 2, res.Summary.UnmappedPoints)
	assert.Equal(t, 2, res.Summary.FallbackPoints)
}

func TestNewRegionProcessor_InvalidParams(t *testing.T) {
	params := domain.DefaultWeightParams()
	params.MinWeight = 2
	_, err := pipeline.NewRegionProcessor(domain.DefaultProjectionRegistry(), params, nil, discardLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// --- Orchestrator ---

func newOrchestrator(t *testing.T, projections domain.ProjectionRegistry, regions []domain.Region, points []domain.ReferencePoint, gauges []domain.GaugeStation, writer *memWriter, metrics *observability.Metrics, opts pipeline.Options) *pipeline.Orchestrator {
	t.Helper()
	return pipeline.NewOrchestrator(
		staticPoints{points: points},
		staticGauges{gauges: gauges},
		regions,
		newProcessor(t, projections, nil),
		writer,
		discardLogger(),
		metrics,
		opts,
	)
}

func TestOrchestrator_Run_WritesOneArtifactPerRegion(t *testing.T) {
	now := freezeClock(t)
	writer := newMemWriter()
	metrics := observability.NewMetricsForTesting()
	o := newOrchestrator(t, domain.DefaultProjectionRegistry(), []domain.Region{midAtlantic, gulf, empty}, fixturePoints(), fixtureGauges(), writer, metrics, pipeline.Options{Workers: 2})

	artifacts, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"mid_atlantic": "mem://mid_atlantic/20240301_123045",
		"gulf":         "mem://gulf/20240301_123045",
	}, artifacts)
	assert.NotContains(t, artifacts, "great_lakes")
	assert.Equal(t, now, writer.stamps["gulf"])

	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RegionsProcessed.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RegionsProcessed.WithLabelValues("skipped")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.ArtifactsWritten), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.RunInProgress), 0)
}

func TestOrchestrator_Run_FailingRegionDoesNotAbortSiblings(t *testing.T) {
	freezeClock(t)
	// No default projection: only gulf can be projected.
	projections := domain.ProjectionRegistry{Overrides: map[string]domain.Projection{
		"gulf": {Kind: domain.ProjectionAlbers, Lat1: 20, Lat2: 60, Lat0: 40, Lon0: -96},
	}}
	writer := newMemWriter()
	metrics := observability.NewMetricsForTesting()
	o := newOrchestrator(t, projections, []domain.Region{midAtlantic, gulf}, fixturePoints(), fixtureGauges(), writer, metrics, pipeline.Options{Workers: 2})

	artifacts, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, artifacts, 1)
	assert.Contains(t, artifacts, "gulf")
	assert.Contains(t, writer.written, "gulf")
	assert.NotContains(t, writer.written, "mid_atlantic")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RegionsProcessed.WithLabelValues("failed")), 0)
}

func TestOrchestrator_Run_EmptyGauges(t *testing.T) {
	writer := newMemWriter()
	o := newOrchestrator(t, domain.DefaultProjectionRegistry(), []domain.Region{midAtlantic}, fixturePoints(), nil, writer, observability.NewMetricsForTesting(), pipeline.Options{})

	var artifacts map[string]string
	var err error
	require.NotPanics(t, func() { artifacts, err = o.Run(context.Background()) })

	assert.NotNil(t, artifacts)
	assert.Empty(t, artifacts)
	assert.ErrorIs(t, err, domain.ErrData)
	assert.Empty(t, writer.written)
	assert.Error(t, o.CheckReadiness(context.Background()))
}

func TestOrchestrator_Run_EmptyPoints(t *testing.T) {
	writer := newMemWriter()
	o := newOrchestrator(t, domain.DefaultProjectionRegistry(), []domain.Region{midAtlantic}, nil, fixtureGauges(), writer, observability.NewMetricsForTesting(), pipeline.Options{})

	artifacts, err := o.Run(context.Background())
	assert.Empty(t, artifacts)
	assert.ErrorIs(t, err, domain.ErrData)
}

func TestOrchestrator_Run_MalformedInputAbortsRun(t *testing.T) {
	points := append(fixturePoints(), domain.ReferencePoint{ID: "ma-1", Geo: domain.Geo{Lat: 38, Lon: -76}, CountyFIPS: "24003"})
	writer := newMemWriter()
	o := newOrchestrator(t, domain.DefaultProjectionRegistry(), []domain.Region{midAtlantic, gulf}, points, fixtureGauges(), writer, observability.NewMetricsForTesting(), pipeline.Options{})

	artifacts, err := o.Run(context.Background())
	assert.Empty(t, artifacts)
	assert.ErrorIs(t, err, domain.ErrData)
	assert.Empty(t, writer.written, "no region is dispatched after a load failure")
}

func TestOrchestrator_Run_LoaderError(t *testing.T) {
	o := pipeline.NewOrchestrator(
		staticPoints{err: errors.New("no such file")},
		staticGauges{gauges: fixtureGauges()},
		[]domain.Region{midAtlantic},
		newProcessor(t, domain.DefaultProjectionRegistry(), nil),
		newMemWriter(),
		discardLogger(),
		observability.NewMetricsForTesting(),
		pipeline.Options{},
	)

	artifacts, err := o.Run(context.Background())
	assert.Empty(t, artifacts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load reference points")
}

func TestOrchestrator_Run_WriterFailureExcludesRegion(t *testing.T) {
	freezeClock(t)
	writer := newMemWriter()
	writer.fail["gulf"] = true
	metrics := observability.NewMetricsForTesting()
	o := newOrchestrator(t, domain.DefaultProjectionRegistry(), []domain.Region{midAtlantic, gulf}, fixturePoints(), fixtureGauges(), writer, metrics, pipeline.Options{})

	artifacts, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, artifacts, "mid_atlantic")
	assert.NotContains(t, artifacts, "gulf")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RegionsProcessed.WithLabelValues("failed")), 0)
}

func TestOrchestrator_Run_SinkFailureIsNotFatal(t *testing.T) {
	freezeClock(t)
	good := &recordingSink{name: "ledger"}
	bad := &recordingSink{name: "kafka", err: errors.New("broker unavailable")}
	metrics := observability.NewMetricsForTesting()
	o := newOrchestrator(t, domain.DefaultProjectionRegistry(), []domain.Region{midAtlantic}, fixturePoints(), fixtureGauges(), newMemWriter(), metrics,
		pipeline.Options{Sinks: []pipeline.ArtifactSink{bad, good}})

	artifacts, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, artifacts, "mid_atlantic")

	require.Len(t, good.published, 1)
	a := good.published[0]
	assert.Equal(t, "mid_atlantic", a.Region)
	assert.Equal(t, "Mid-Atlantic", a.RegionName)
	assert.Equal(t, artifacts["mid_atlantic"], a.Path)
	assert.Equal(t, a.Summary.Mappings, a.Records)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ArtifactSinkErrors.WithLabelValues("kafka")), 0)
}

func TestOrchestrator_Run_DeterministicAcrossWorkerCounts(t *testing.T) {
	freezeClock(t)
	regions := []domain.Region{midAtlantic, gulf, empty}

	serial := newMemWriter()
	_, err := newOrchestrator(t, domain.DefaultProjectionRegistry(), regions, fixturePoints(), fixtureGauges(), serial, observability.NewMetricsForTesting(), pipeline.Options{Workers: 1}).Run(context.Background())
	require.NoError(t, err)

	parallel := newMemWriter()
	_, err = newOrchestrator(t, domain.DefaultProjectionRegistry(), regions, fixturePoints(), fixtureGauges(), parallel, observability.NewMetricsForTesting(), pipeline.Options{Workers: 8}).Run(context.Background())
	require.NoError(t, err)

	if diff := cmp.Diff(serial.written, parallel.written); diff != "" {
		t.Fatalf("records depend on worker count (-serial +parallel):\n%s", diff)
	}
}

func TestOrchestrator_Run_RegionTimeout(t *testing.T) {
	o := newOrchestrator(t, domain.DefaultProjectionRegistry(), []domain.Region{midAtlantic}, fixturePoints(), fixtureGauges(), newMemWriter(), observability.NewMetricsForTesting(),
		pipeline.Options{RegionTimeout: time.Nanosecond})

	artifacts, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestOrchestrator_CheckReadiness(t *testing.T) {
	freezeClock(t)
	o := newOrchestrator(t, domain.DefaultProjectionRegistry(), []domain.Region{gulf}, fixturePoints(), fixtureGauges(), newMemWriter(), observability.NewMetricsForTesting(), pipeline.Options{})

	assert.Error(t, o.CheckReadiness(context.Background()))
	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.NoError(t, o.CheckReadiness(context.Background()))
}

func TestDefaultWorkers(t *testing.T) {
	assert.GreaterOrEqual(t, pipeline.DefaultWorkers(), 1)
}

func TestOrchestrator_LastRun(t *testing.T) {
	now := freezeClock(t)
	albers := domain.Projection{Kind: domain.ProjectionAlbers, Lat1: 20, Lat2: 60, Lat0: 40, Lon0: -96}
	projections := domain.ProjectionRegistry{Overrides: map[string]domain.Projection{
		"gulf":        albers,
		"great_lakes": albers,
	}}
	o := newOrchestrator(t, projections, []domain.Region{midAtlantic, gulf, empty}, fixturePoints(), fixtureGauges(), newMemWriter(), observability.NewMetricsForTesting(), pipeline.Options{Workers: 3})

	assert.Nil(t, o.LastRun())
	artifacts, err := o.Run(context.Background())
	require.NoError(t, err)

	report := o.LastRun()
	require.NotNil(t, report)
	assert.Equal(t, now, report.StartedAt)
	assert.Equal(t, artifacts, report.Artifacts)
	assert.Equal(t, []string{"mid_atlantic"}, report.Failed)
	assert.Equal(t, []string{"great_lakes"}, report.Skipped)
}

func TestOrchestrator_Run_RejectedRegionDoesNotBlockBatch(t *testing.T) {
	freezeClock(t)
	regions, err := config.ParseRegions([]byte(`
regions:
  gulf:
    name: Gulf Coast
    state_codes: ["12", "01"]
  broken:
    state_codes: ["24", "51"]
`))
	require.NoError(t, err)
	require.Contains(t, regions.Rejected, "broken")

	writer := newMemWriter()
	metrics := observability.NewMetricsForTesting()
	o := newOrchestrator(t, regions.Projections, regions.Regions, fixturePoints(), fixtureGauges(), writer, metrics,
		pipeline.Options{Workers: 2, Rejected: regions.Rejected})

	artifacts, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"gulf": "mem://gulf/20240301_123045"}, artifacts)
	assert.Equal(t, []string{"broken"}, o.LastRun().Failed)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RegionsProcessed.WithLabelValues("failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RegionsProcessed.WithLabelValues("success")), 0)
}
