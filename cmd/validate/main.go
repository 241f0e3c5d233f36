// Command validate checks a directory of imputation artifacts against the
// inputs that produced them. It recomputes distances and weights, verifies
// region membership and candidate ordering, and optionally cross-checks the
// artifact ledger.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -artifacts output/imputation \
//	  -points data/mock/reference_points.parquet \
//	  -stations data/mock/tide_stations.json \
//	  -regions data/mock/region_mappings.yaml \
//	  -ledger output/ledger.db
//
// Weight parameters come from the same environment variables as the
// imputation command.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/tide-gauge-imputation/internal/adapter/parquet"
	"github.com/couchcryptid/tide-gauge-imputation/internal/adapter/sqlite"
	"github.com/couchcryptid/tide-gauge-imputation/internal/adapter/stations"
	"github.com/couchcryptid/tide-gauge-imputation/internal/config"
	"github.com/couchcryptid/tide-gauge-imputation/internal/domain"
)

const (
	artifactPrefix = "imputation_structure_"
	stampLayout    = "20060102_150405"
	distanceTol    = 1e-6 // relative
	weightTol      = 1e-12
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type artifact struct {
	path    string
	region  string
	stamp   time.Time
	seq     int
	records []domain.MappingRecord
}

type inputs struct {
	params   domain.WeightParams
	regions  *config.RegionConfig
	points   map[string]domain.ReferencePoint
	stations map[string]domain.GaugeStation
}

func main() {
	artifactDir := flag.String("artifacts", "", "directory containing imputation artifacts")
	pointsPath := flag.String("points", "", "reference point parquet file")
	stationsPath := flag.String("stations", "", "gauge station JSON file")
	regionsPath := flag.String("regions", "", "region configuration YAML")
	ledgerPath := flag.String("ledger", "", "optional artifact ledger to cross-check")
	flag.Parse()

	if *artifactDir == "" || *pointsPath == "" || *stationsPath == "" || *regionsPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*artifactDir, *pointsPath, *stationsPath, *regionsPath, *ledgerPath); code != 0 {
		os.Exit(code)
	}
}

func run(artifactDir, pointsPath, stationsPath, regionsPath, ledgerPath string) int {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		return 1
	}
	in, err := loadInputs(ctx, cfg.Weights, pointsPath, stationsPath, regionsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	naming := &phase{name: "Artifact naming"}
	artifacts, err := loadArtifacts(artifactDir, in, naming)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load artifacts: %v\n", err)
		return 1
	}

	phases := []*phase{
		naming,
		validateRecords(artifacts, in),
		validateMembership(artifacts, in),
		validateDistances(artifacts, in),
	}
	if ledgerPath != "" {
		phases = append(phases, validateLedger(ctx, ledgerPath, artifacts))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	total := 0
	for _, a := range artifacts {
		total += len(a.records)
	}
	fmt.Println()
	fmt.Printf("Artifacts: %d, records: %d, reference points: %d, stations: %d\n",
		len(artifacts), total, len(in.points), len(in.stations))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func loadInputs(ctx context.Context, params domain.WeightParams, pointsPath, stationsPath, regionsPath string) (*inputs, error) {
	regions, err := config.LoadRegions(regionsPath)
	if err != nil {
		return nil, fmt.Errorf("load regions: %w", err)
	}
	points, err := parquet.NewReferencePointReader(pointsPath).LoadReferencePoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reference points: %w", err)
	}
	gauges, err := stations.NewLoader(stationsPath).LoadGaugeStations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stations: %w", err)
	}

	in := &inputs{
		params:   params,
		regions:  regions,
		points:   make(map[string]domain.ReferencePoint, len(points)),
		stations: make(map[string]domain.GaugeStation, len(gauges)),
	}
	for _, p := range points {
		in.points[p.ID] = p
	}
	for _, g := range gauges {
		in.stations[g.ID] = g
	}
	return in, nil
}

func (in *inputs) region(id string) (domain.Region, bool) {
	for _, r := range in.regions.Regions {
		if r.ID == id {
			return r, true
		}
	}
	return domain.Region{}, false
}

func loadArtifacts(dir string, in *inputs, p *phase) ([]artifact, error) {
	paths, err := parquet.ListArtifacts(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		p.errorf("no artifacts in %s", dir)
	}

	var out []artifact
	for _, path := range paths {
		region, stamp, seq, ok := parseName(filepath.Base(path))
		if !ok {
			p.errorf("%s: name does not match %s<region>_<%s>[_<seq>].parquet", path, artifactPrefix, stampLayout)
			continue
		}
		if _, known := in.region(region); !known {
			p.errorf("%s: region %q is not configured", path, region)
			continue
		}
		records, err := parquet.ReadArtifact(path)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			p.errorf("%s: artifact is empty", path)
		}
		out = append(out, artifact{path: path, region: region, stamp: stamp, seq: seq, records: records})
	}
	return out, nil
}

var artifactNamePattern = regexp.MustCompile(`^` + artifactPrefix + `(.+)_(\d{8}_\d{6})(?:_(\d+))?\.parquet$`)

// parseName splits an artifact file name into region, timestamp, and the
// sequence number used when runs share a second.
func parseName(name string) (region string, stamp time.Time, seq int, ok bool) {
	m := artifactNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, 0, false
	}
	stamp, err := time.Parse(stampLayout, m[2])
	if err != nil {
		return "", time.Time{}, 0, false
	}
	if m[3] != "" {
		if seq, err = strconv.Atoi(m[3]); err != nil {
			return "", time.Time{}, 0, false
		}
	}
	return m[1], stamp, seq, true
}

// ── Validation phases ──

// validateRecords checks the weighting invariants of every row and the
// candidate ordering within each reference point.
func validateRecords(artifacts []artifact, in *inputs) *phase {
	p := &phase{name: "Record invariants"}
	params := in.params

	for _, a := range artifacts {
		seen := make(map[[2]string]bool)
		fallbacks := make(map[string]int)
		var prev *domain.MappingRecord

		for i := range a.records {
			r := a.records[i]
			where := fmt.Sprintf("%s row %d (%s -> %s)", filepath.Base(a.path), i, r.ReferencePointID, r.StationID)

			if r.Region != a.region {
				p.errorf("%s: region column %q does not match file", where, r.Region)
			}
			key := [2]string{r.ReferencePointID, r.StationID}
			if seen[key] {
				p.errorf("%s: duplicate point/station pair", where)
			}
			seen[key] = true

			if r.DistanceMeters < 0 || math.IsNaN(r.DistanceMeters) {
				p.errorf("%s: invalid distance %g", where, r.DistanceMeters)
			}
			if r.Weight < params.MinWeight-weightTol || r.Weight > 1+weightTol {
				p.errorf("%s: weight %g outside [%g, 1]", where, r.Weight, params.MinWeight)
			}
			if r.Fallback {
				fallbacks[r.ReferencePointID]++
				if params.Unmapped != domain.UnmappedNearest {
					p.errorf("%s: fallback row with unmapped policy %q", where, params.Unmapped)
				}
				if r.DistanceMeters <= params.MaxDistanceMeters {
					p.errorf("%s: fallback gauge is inside the %g m cutoff", where, params.MaxDistanceMeters)
				}
			} else {
				if r.DistanceMeters > params.MaxDistanceMeters {
					p.errorf("%s: distance %g beyond %g m cutoff", where, r.DistanceMeters, params.MaxDistanceMeters)
				}
				want := domain.InverseDistanceWeight(r.DistanceMeters, params.Power, params.MinWeight)
				if math.Abs(want-r.Weight) > weightTol {
					p.errorf("%s: weight %g, expected %g", where, r.Weight, want)
				}
			}

			if prev != nil && prev.ReferencePointID == r.ReferencePointID {
				if prev.DistanceMeters > r.DistanceMeters ||
					(prev.DistanceMeters == r.DistanceMeters && prev.StationID > r.StationID) {
					p.errorf("%s: candidates out of order", where)
				}
			}
			prev = &a.records[i]
		}

		for id, n := range fallbacks {
			if n > 1 {
				p.errorf("%s: point %s has %d fallback rows", filepath.Base(a.path), id, n)
			}
		}
	}
	return p
}

// validateMembership checks every row against the region configuration and
// the input datasets.
func validateMembership(artifacts []artifact, in *inputs) *phase {
	p := &phase{name: "Region membership"}

	for _, a := range artifacts {
		region, _ := in.region(a.region)
		for i, r := range a.records {
			where := fmt.Sprintf("%s row %d", filepath.Base(a.path), i)

			point, ok := in.points[r.ReferencePointID]
			switch {
			case !ok:
				p.errorf("%s: unknown reference point %s", where, r.ReferencePointID)
			case !region.Contains(point):
				p.errorf("%s: point %s does not belong to region %s", where, point.ID, region.ID)
			case point.CountyFIPS != r.CountyFIPS:
				p.errorf("%s: county %s, point has %s", where, r.CountyFIPS, point.CountyFIPS)
			}

			gauge, ok := in.stations[r.StationID]
			switch {
			case !ok:
				p.errorf("%s: unknown station %s", where, r.StationID)
			case !region.AcceptsGauge(gauge):
				p.errorf("%s: station %s (sub-region %q) not eligible for %s", where, gauge.ID, gauge.SubRegion, region.ID)
			case gauge.Name != r.StationName:
				p.errorf("%s: station name %q, registry has %q", where, r.StationName, gauge.Name)
			}
		}
	}
	return p
}

// validateDistances recomputes each distance with the region's metric.
func validateDistances(artifacts []artifact, in *inputs) *phase {
	p := &phase{name: "Distance recomputation"}

	for _, a := range artifacts {
		region, _ := in.region(a.region)
		projection, err := in.regions.Projections.Resolve(region)
		if err != nil {
			p.errorf("%s: %v", a.region, err)
			continue
		}
		project, err := projection.Projector()
		if err != nil {
			p.errorf("%s: %v", a.region, err)
			continue
		}

		for i, r := range a.records {
			point, okP := in.points[r.ReferencePointID]
			gauge, okG := in.stations[r.StationID]
			if !okP || !okG {
				continue // reported by membership
			}

			var want float64
			if region.Metric() == domain.MetricGeodesic {
				want = geo.DistanceHaversine(point.Geo.Point(), gauge.Geo.Point())
			} else {
				px, py, err1 := project(point.Geo)
				gx, gy, err2 := project(gauge.Geo)
				if err1 != nil || err2 != nil {
					p.errorf("%s row %d: projection failed", filepath.Base(a.path), i)
					continue
				}
				want = planar.Distance(orb.Point{px, py}, orb.Point{gx, gy})
			}
			if math.Abs(want-r.DistanceMeters) > distanceTol*math.Max(1, want) {
				p.errorf("%s row %d: distance %.3f, recomputed %.3f", filepath.Base(a.path), i, r.DistanceMeters, want)
			}
		}
	}
	return p
}

// validateLedger checks that every artifact on disk was recorded.
func validateLedger(ctx context.Context, path string, artifacts []artifact) *phase {
	p := &phase{name: "Ledger consistency"}

	ledger, err := sqlite.Open(path)
	if err != nil {
		p.errorf("open ledger: %v", err)
		return p
	}
	defer func() { _ = ledger.Close() }()

	entries, err := ledger.List(ctx)
	if err != nil {
		p.errorf("list ledger: %v", err)
		return p
	}
	byPath := make(map[string]sqlite.Entry, len(entries))
	for _, e := range entries {
		byPath[filepath.Base(e.Path)] = e
	}

	for _, a := range artifacts {
		e, ok := byPath[filepath.Base(a.path)]
		if !ok {
			p.errorf("%s: not in ledger", filepath.Base(a.path))
			continue
		}
		if e.Region != a.region {
			p.errorf("%s: ledger region %q", filepath.Base(a.path), e.Region)
		}
		if e.Records != len(a.records) {
			p.errorf("%s: ledger records %d, file has %d", filepath.Base(a.path), e.Records, len(a.records))
		}
		if !e.GeneratedAt.Equal(a.stamp) {
			p.errorf("%s: ledger generated_at %s", filepath.Base(a.path), e.GeneratedAt.Format(time.RFC3339))
		}
	}

	for region, newest := range newestByRegion(artifacts) {
		latest, err := ledger.Latest(ctx, region)
		if err != nil {
			p.errorf("%s: latest ledger entry: %v", region, err)
			continue
		}
		if filepath.Base(latest.Path) != filepath.Base(newest.path) {
			p.errorf("%s: ledger latest is %s, newest artifact is %s", region, filepath.Base(latest.Path), filepath.Base(newest.path))
		}
	}
	return p
}

// newestByRegion picks each region's most recent artifact by timestamp, then
// sequence number.
func newestByRegion(artifacts []artifact) map[string]artifact {
	newest := make(map[string]artifact)
	for _, a := range artifacts {
		cur, ok := newest[a.region]
		if !ok || a.stamp.After(cur.stamp) || (a.stamp.Equal(cur.stamp) && a.seq > cur.seq) {
			newest[a.region] = a
		}
	}
	return newest
}
