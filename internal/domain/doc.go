// Package domain models the assignment of coastal reference points to tide
// gauge stations and the inverse-distance weights used to estimate water
// levels at ungauged locations.
//
// # Inputs
//
// Reference points are dense synthetic points along the shoreline, each owned
// by a county (5-digit FIPS code) and a region. Gauge stations are NOAA
// water-level stations with an id, display name, WGS-84 coordinate, and an
// optional sub-region label. Both datasets are read-only here.
//
// # Regions and projections
//
// A region is a group of coastal counties sharing a projection and a gauge
// pool. Distances are measured in a projected coordinate system chosen per
// region:
//
//	explicit region projection  →  named override  →  registry default
//
// The default is a CONUS Albers equal-area projection (parallels 20°N/60°N,
// origin 40°N 96°W). Alaska, Hawaii, and the West Coast use their own Albers
// parameters because the CONUS projection distorts badly there and Alaska
// spans the antimeridian (the Aleutians reach 172°E). Projections are
// described by parameters ([Projection]) rather than definition strings.
//
// A region may instead ask for great-circle distances ([MetricGeodesic]).
//
// # Gauge eligibility
//
// A region with sub_regions only considers gauges tagged with one of them;
// otherwise every gauge is a candidate. [GaugeFinder] returns all eligible
// gauges for each point, nearest first, so several gauges can be blended.
//
// # Weighting
//
//	weight = clamp(1 / distance^power, min_weight, 1)
//
// Gauges beyond max_distance are dropped. A distance of 0 gets weight 1.
// Weights are influences, not probabilities, and are not renormalized.
// A point with no gauge inside the cutoff is "unmapped": it is either dropped
// or kept with its single nearest gauge at min_weight, per [UnmappedPolicy].
// Unmapped points are always counted in [WeightStats].
//
// # Determinism
//
// Candidates are ordered by distance and then station id, and records follow
// reference point input order, so identical inputs produce identical output
// regardless of how regions are scheduled.
package domain
