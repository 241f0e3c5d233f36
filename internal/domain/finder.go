package domain

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// geodesicSearchMargin widens the projected prefilter box when the exact
// metric is geodesic, since projected and great-circle distances differ by a
// few percent at the edges of a projection.
const geodesicSearchMargin = 1.25

// GaugeFinder pairs each reference point in a region with every eligible gauge
// and its distance.
type GaugeFinder struct {
	projections ProjectionRegistry
}

// NewGaugeFinder creates a finder that resolves projections from the registry.
func NewGaugeFinder(projections ProjectionRegistry) *GaugeFinder {
	return &GaugeFinder{projections: projections}
}

// projectedGauge is a gauge with its coordinates in the region projection.
type projectedGauge struct {
	station GaugeStation
	xy      orb.Point
}

// Bounds implements rtreego.Spatial.
func (g *projectedGauge) Bounds() rtreego.Rect {
	return rtreego.Point{g.xy[0], g.xy[1]}.ToRect(0.5)
}

// FindNearest returns one RawMapping per region reference point, each listing
// all eligible gauges in ascending distance (ties by station id). No points or
// no eligible gauges yields an empty result, not an error. The context is
// checked between reference points.
func (f *GaugeFinder) FindNearest(ctx context.Context, points []ReferencePoint, gauges []GaugeStation, region Region) ([]RawMapping, error) {
	projection, err := f.projections.Resolve(region)
	if err != nil {
		return nil, err
	}
	project, err := projection.Projector()
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.Region = region.ID
		}
		return nil, err
	}
	if m := region.Metric(); m != MetricProjected && m != MetricGeodesic {
		return nil, &ConfigurationError{Region: region.ID, Field: "distance_metric", Reason: fmt.Sprintf("unknown metric %q", m)}
	}

	regionPoints := make([]ReferencePoint, 0)
	for _, p := range points {
		if region.Contains(p) {
			regionPoints = append(regionPoints, p)
		}
	}
	eligible := make([]GaugeStation, 0, len(gauges))
	for _, g := range gauges {
		if region.AcceptsGauge(g) {
			eligible = append(eligible, g)
		}
	}
	if len(regionPoints) == 0 || len(eligible) == 0 {
		return nil, nil
	}
	if err := ValidateReferencePoints(regionPoints); err != nil {
		return nil, err
	}
	if err := ValidateGaugeStations(eligible); err != nil {
		return nil, err
	}

	projected := make([]*projectedGauge, len(eligible))
	for i, g := range eligible {
		x, y, err := project(g.Geo)
		if err != nil {
			return nil, &DataError{Dataset: datasetGaugeStations, ID: g.ID, Reason: err.Error()}
		}
		projected[i] = &projectedGauge{station: g, xy: orb.Point{x, y}}
	}

	var index *rtreego.Rtree
	if region.SearchRadiusMeters > 0 {
		index = rtreego.NewTree(2, 25, 50)
		for _, g := range projected {
			index.Insert(g)
		}
	}

	mappings := make([]RawMapping, 0, len(regionPoints))
	for _, p := range regionPoints {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("find nearest gauges for region %s: %w", region.ID, err)
		}
		x, y, err := project(p.Geo)
		if err != nil {
			return nil, &DataError{Dataset: datasetReferencePoints, ID: p.ID, Reason: err.Error()}
		}
		origin := orb.Point{x, y}

		pool := projected
		if index != nil {
			pool = searchRadius(index, origin, region)
		}

		candidates := make([]Candidate, 0, len(pool))
		for _, g := range pool {
			d := distance(region.Metric(), p.Geo.Point(), origin, g)
			if region.SearchRadiusMeters > 0 && d > region.SearchRadiusMeters {
				continue
			}
			candidates = append(candidates, Candidate{
				StationID:      g.station.ID,
				StationName:    g.station.Name,
				SubRegion:      g.station.SubRegion,
				DistanceMeters: d,
			})
		}
		sortCandidates(candidates)

		mappings = append(mappings, RawMapping{
			ReferencePointID: p.ID,
			CountyFIPS:       p.CountyFIPS,
			Candidates:       candidates,
		})
	}
	return mappings, nil
}

func searchRadius(index *rtreego.Rtree, origin orb.Point, region Region) []*projectedGauge {
	radius := region.SearchRadiusMeters
	if region.Metric() == MetricGeodesic {
		radius *= geodesicSearchMargin
	}
	hits := index.SearchIntersect(rtreego.Point{origin[0], origin[1]}.ToRect(radius))
	out := make([]*projectedGauge, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*projectedGauge))
	}
	return out
}

func distance(metric DistanceMetric, lonlat, xy orb.Point, g *projectedGauge) float64 {
	if metric == MetricGeodesic {
		return geo.DistanceHaversine(lonlat, g.station.Geo.Point())
	}
	return planar.Distance(xy, g.xy)
}

// sortCandidates orders by distance, then station id, so results do not depend
// on input or index iteration order.
func sortCandidates(c []Candidate) {
	slices.SortFunc(c, func(a, b Candidate) int {
		switch {
		case a.DistanceMeters < b.DistanceMeters:
			return -1
		case a.DistanceMeters > b.DistanceMeters:
			return 1
		}
		return strings.Compare(a.StationID, b.StationID)
	})
}
