package domain

import (
	"math"
	"slices"

	"github.com/paulmach/orb"
)

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point returns the coordinate as an orb point (lon, lat order).
func (g Geo) Point() orb.Point { return orb.Point{g.Lon, g.Lat} }

func (g Geo) valid() bool {
	if math.IsNaN(g.Lat) || math.IsNaN(g.Lon) || math.IsInf(g.Lat, 0) || math.IsInf(g.Lon, 0) {
		return false
	}
	return g.Lat >= -90 && g.Lat <= 90 && g.Lon >= -180 && g.Lon <= 180
}

// ReferencePoint is a synthetic coastal location that needs an estimated water
// level. Points are generated upstream and treated as read-only here.
type ReferencePoint struct {
	ID         string
	Geo        Geo
	CountyFIPS string
	RegionID   string
}

// GaugeStation is a tide gauge with observed water levels.
type GaugeStation struct {
	ID        string
	Name      string
	Geo       Geo
	SubRegion string
}

// DistanceMetric selects how a region measures point-to-gauge distance.
type DistanceMetric string

const (
	// MetricProjected measures straight-line distance in the region's projection.
	MetricProjected DistanceMetric = "projected"
	// MetricGeodesic measures great-circle (haversine) distance.
	MetricGeodesic DistanceMetric = "geodesic"
)

// Region groups coastal counties that share a projection and gauge pool.
type Region struct {
	ID         string
	Name       string
	StateCodes []string

	// SubRegions restricts eligible gauges to those tagged with one of these
	// labels. Empty means every gauge is eligible.
	SubRegions []string

	// Projection overrides the registry lookup when set.
	Projection *Projection

	DistanceMetric DistanceMetric

	// SearchRadiusMeters limits candidates to gauges within this radius using
	// a spatial index. Zero disables the limit.
	SearchRadiusMeters float64
}

// Contains reports whether a reference point belongs to the region. Points
// without a region id fall back to the state prefix of their county FIPS code.
func (r Region) Contains(p ReferencePoint) bool {
	if p.RegionID != "" {
		return p.RegionID == r.ID
	}
	if len(p.CountyFIPS) < 2 {
		return false
	}
	return slices.Contains(r.StateCodes, p.CountyFIPS[:2])
}

// AcceptsGauge reports whether a gauge is eligible for this region.
func (r Region) AcceptsGauge(g GaugeStation) bool {
	return len(r.SubRegions) == 0 || slices.Contains(r.SubRegions, g.SubRegion)
}

// Metric returns the configured distance metric, defaulting to projected.
func (r Region) Metric() DistanceMetric {
	if r.DistanceMetric == "" {
		return MetricProjected
	}
	return r.DistanceMetric
}

// Candidate is one gauge considered for a reference point.
type Candidate struct {
	StationID      string
	StationName    string
	SubRegion      string
	DistanceMeters float64
}

// RawMapping lists every eligible gauge for a reference point, nearest first.
type RawMapping struct {
	ReferencePointID string
	CountyFIPS       string
	Candidates       []Candidate
}

// WeightedCandidate is a candidate with its inverse-distance influence.
// Fallback marks the nearest gauge kept for a point with nothing in range.
type WeightedCandidate struct {
	Candidate
	Weight   float64
	Fallback bool
}

// WeightedMapping is a RawMapping after the distance cutoff and weighting.
type WeightedMapping struct {
	ReferencePointID string
	CountyFIPS       string
	Candidates       []WeightedCandidate
}

// MappingRecord is one (reference point, gauge) row of an output artifact.
type MappingRecord struct {
	ReferencePointID string
	CountyFIPS       string
	Region           string
	RegionName       string
	StationID        string
	StationName      string
	SubRegion        string
	DistanceMeters   float64
	Weight           float64
	Fallback         bool
}

// FlattenMappings expands weighted mappings into one record per candidate,
// preserving mapping order and candidate order.
func FlattenMappings(region Region, mappings []WeightedMapping) []MappingRecord {
	n := 0
	for _, m := range mappings {
		n += len(m.Candidates)
	}
	records := make([]MappingRecord, 0, n)
	for _, m := range mappings {
		for _, c := range m.Candidates {
			records = append(records, MappingRecord{
				ReferencePointID: m.ReferencePointID,
				CountyFIPS:       m.CountyFIPS,
				Region:           region.ID,
				RegionName:       region.Name,
				StationID:        c.StationID,
				StationName:      c.StationName,
				SubRegion:        c.SubRegion,
				DistanceMeters:   c.DistanceMeters,
				Weight:           c.Weight,
				Fallback:         c.Fallback,
			})
		}
	}
	return records
}
