package domain

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// SubRegionSummary describes the mappings that use gauges from one sub-region.
type SubRegionSummary struct {
	SubRegion    string
	Counties     int
	Stations     int
	Mappings     int
	MeanDistance float64
	MeanWeight   float64
}

// RegionSummary is observability output for a processed region. It never
// feeds back into the mapping result.
type RegionSummary struct {
	Region          string
	RegionName      string
	ReferencePoints int
	MappedPoints    int
	UnmappedPoints  int
	FallbackPoints  int

	// PointCoverage is the percentage of reference points with at least one
	// gauge inside the cutoff.
	PointCoverage float64

	// RegionCounties counts every county with reference points; Counties only
	// those present in the output. UncoveredCounties lost all of their points
	// to the cutoff.
	RegionCounties    int
	UncoveredCounties int
	Counties          int

	Stations     int
	Mappings     int
	MeanDistance float64
	MeanWeight   float64
	SubRegions   []SubRegionSummary
}

// Reporter receives region statistics. Implementations decide where they go
// (logs, metrics, tests).
type Reporter interface {
	ReportRegion(summary RegionSummary)
}

// Summarize computes region and sub-region statistics from flattened records.
// Records with an empty sub-region count toward region totals only.
func Summarize(region Region, records []MappingRecord, stats WeightStats) RegionSummary {
	s := RegionSummary{
		Region:          region.ID,
		RegionName:      region.Name,
		ReferencePoints: stats.Points,
		MappedPoints:    stats.Mapped,
		UnmappedPoints:  stats.Unmapped,
		FallbackPoints:  stats.Fallback,
		Mappings:        len(records),

		RegionCounties:    stats.Counties,
		UncoveredCounties: stats.UncoveredCounties,
	}
	if stats.Points > 0 {
		s.PointCoverage = 100 * float64(stats.Mapped) / float64(stats.Points)
	}
	s.Counties, s.Stations, s.MeanDistance, s.MeanWeight = aggregate(records)

	bySub := make(map[string][]MappingRecord)
	for _, r := range records {
		if r.SubRegion == "" {
			continue
		}
		bySub[r.SubRegion] = append(bySub[r.SubRegion], r)
	}
	names := make([]string, 0, len(bySub))
	for name := range bySub {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sub := SubRegionSummary{SubRegion: name, Mappings: len(bySub[name])}
		sub.Counties, sub.Stations, sub.MeanDistance, sub.MeanWeight = aggregate(bySub[name])
		s.SubRegions = append(s.SubRegions, sub)
	}
	return s
}

func aggregate(records []MappingRecord) (counties, stations int, meanDistance, meanWeight float64) {
	if len(records) == 0 {
		return 0, 0, 0, 0
	}
	countySet := make(map[string]struct{})
	stationSet := make(map[string]struct{})
	distances := make([]float64, len(records))
	weights := make([]float64, len(records))
	for i, r := range records {
		countySet[r.CountyFIPS] = struct{}{}
		stationSet[r.StationID] = struct{}{}
		distances[i] = r.DistanceMeters
		weights[i] = r.Weight
	}
	return len(countySet), len(stationSet), stat.Mean(distances, nil), stat.Mean(weights, nil)
}
