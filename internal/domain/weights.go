package domain

import (
	"fmt"
	"math"
)

// UnmappedPolicy decides what happens to a reference point whose gauges all
// lie beyond the distance cutoff.
type UnmappedPolicy string

const (
	// UnmappedDrop removes the point from the weighted output.
	UnmappedDrop UnmappedPolicy = "drop"
	// UnmappedNearest keeps the single nearest gauge at the floor weight and
	// marks it as a fallback.
	UnmappedNearest UnmappedPolicy = "nearest"
)

// WeightParams configures inverse distance weighting.
type WeightParams struct {
	MaxDistanceMeters float64
	Power             float64
	MinWeight         float64
	Unmapped          UnmappedPolicy
}

// DefaultWeightParams returns the production defaults: 100 km cutoff, power 2,
// floor 0.1, unmapped points dropped.
func DefaultWeightParams() WeightParams {
	return WeightParams{
		MaxDistanceMeters: 100000,
		Power:             2,
		MinWeight:         0.1,
		Unmapped:          UnmappedDrop,
	}
}

// Validate returns a ValidationError for non-positive power or cutoff, a floor
// outside [0, 1], or an unknown unmapped policy.
func (p WeightParams) Validate() error {
	if math.IsNaN(p.Power) || p.Power <= 0 {
		return &ValidationError{Param: "power", Value: p.Power, Reason: "must be greater than 0"}
	}
	if math.IsNaN(p.MaxDistanceMeters) || p.MaxDistanceMeters <= 0 {
		return &ValidationError{Param: "max_distance_meters", Value: p.MaxDistanceMeters, Reason: "must be greater than 0"}
	}
	if math.IsNaN(p.MinWeight) || p.MinWeight < 0 || p.MinWeight > 1 {
		return &ValidationError{Param: "min_weight", Value: p.MinWeight, Reason: "must be within [0, 1]"}
	}
	switch p.Unmapped {
	case UnmappedDrop, UnmappedNearest:
	default:
		return &ValidationError{Param: "unmapped_policy", Value: math.NaN(), Reason: fmt.Sprintf("unknown policy %q", p.Unmapped)}
	}
	return nil
}

// WeightStats counts weighting outcomes for reporting.
type WeightStats struct {
	Points   int // reference points considered
	Mapped   int // points with at least one gauge within the cutoff
	Unmapped int // points with no gauge within the cutoff
	Fallback int // unmapped points kept via their nearest gauge
	Excluded int // candidates dropped by the cutoff

	Counties          int // distinct counties among the points
	UncoveredCounties int // counties where no point has a gauge within the cutoff
}

// WeightCalculator turns raw distances into per-gauge influence weights.
//
// Weights are not normalized across a point's gauges: each one is that gauge's
// inverse-distance influence. Consumers that need weights summing to 1 must
// normalize them themselves.
type WeightCalculator struct {
	params WeightParams
}

// NewWeightCalculator validates params before any computation can happen.
func NewWeightCalculator(params WeightParams) (*WeightCalculator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &WeightCalculator{params: params}, nil
}

// Params returns the calculator configuration.
func (c *WeightCalculator) Params() WeightParams { return c.params }

// CalculateWeights drops candidates beyond the cutoff and weights the rest.
// Candidate order is preserved, so sorted input gives sorted output.
func (c *WeightCalculator) CalculateWeights(mappings []RawMapping) ([]WeightedMapping, WeightStats) {
	stats := WeightStats{Points: len(mappings)}
	out := make([]WeightedMapping, 0, len(mappings))
	counties := make(map[string]bool) // county -> covered

	for _, m := range mappings {
		weighted := make([]WeightedCandidate, 0, len(m.Candidates))
		for _, cand := range m.Candidates {
			if cand.DistanceMeters > c.params.MaxDistanceMeters {
				stats.Excluded++
				continue
			}
			weighted = append(weighted, WeightedCandidate{
				Candidate: cand,
				Weight:    InverseDistanceWeight(cand.DistanceMeters, c.params.Power, c.params.MinWeight),
			})
		}

		counties[m.CountyFIPS] = counties[m.CountyFIPS] || len(weighted) > 0
		if len(weighted) == 0 {
			stats.Unmapped++
			if c.params.Unmapped != UnmappedNearest || len(m.Candidates) == 0 {
				continue
			}
			nearest := nearestCandidate(m.Candidates)
			weighted = append(weighted, WeightedCandidate{
				Candidate: nearest,
				Weight:    c.params.MinWeight,
				Fallback:  true,
			})
			stats.Excluded--
			stats.Fallback++
		} else {
			stats.Mapped++
		}

		out = append(out, WeightedMapping{
			ReferencePointID: m.ReferencePointID,
			CountyFIPS:       m.CountyFIPS,
			Candidates:       weighted,
		})
	}

	stats.Counties = len(counties)
	for _, covered := range counties {
		if !covered {
			stats.UncoveredCounties++
		}
	}
	return out, stats
}

// CalculateWeights validates params and weights mappings in one call.
func CalculateWeights(mappings []RawMapping, params WeightParams) ([]WeightedMapping, WeightStats, error) {
	calc, err := NewWeightCalculator(params)
	if err != nil {
		return nil, WeightStats{}, err
	}
	weighted, stats := calc.CalculateWeights(mappings)
	return weighted, stats, nil
}

// InverseDistanceWeight returns 1/d^power clamped to [minWeight, 1]. A zero
// distance (co-located point and gauge) gets the maximum weight of 1.
func InverseDistanceWeight(distance, power, minWeight float64) float64 {
	if distance <= 0 {
		return 1
	}
	w := 1 / math.Pow(distance, power)
	return math.Min(1, math.Max(minWeight, w))
}

func nearestCandidate(c []Candidate) Candidate {
	best := c[0]
	for _, cand := range c[1:] {
		if cand.DistanceMeters < best.DistanceMeters ||
			(cand.DistanceMeters == best.DistanceMeters && cand.StationID < best.StationID) {
			best = cand
		}
	}
	return best
}
