package domain

import "strconv"

const (
	datasetReferencePoints = "reference_points"
	datasetGaugeStations   = "gauge_stations"
)

// ValidateReferencePoints checks identity and coordinate fields and rejects
// duplicate ids. An empty slice is valid here; emptiness is the loader's call.
func ValidateReferencePoints(points []ReferencePoint) error {
	seen := make(map[string]struct{}, len(points))
	for i, p := range points {
		if p.ID == "" {
			return &DataError{Dataset: datasetReferencePoints, Reason: "missing id at index " + strconv.Itoa(i)}
		}
		if !p.Geo.valid() {
			return &DataError{Dataset: datasetReferencePoints, ID: p.ID, Reason: "invalid coordinate"}
		}
		if _, dup := seen[p.ID]; dup {
			return &DataError{Dataset: datasetReferencePoints, ID: p.ID, Reason: "duplicate id"}
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// ValidateGaugeStations checks identity and coordinate fields and rejects
// duplicate station ids.
func ValidateGaugeStations(gauges []GaugeStation) error {
	seen := make(map[string]struct{}, len(gauges))
	for i, g := range gauges {
		if g.ID == "" {
			return &DataError{Dataset: datasetGaugeStations, Reason: "missing station id at index " + strconv.Itoa(i)}
		}
		if !g.Geo.valid() {
			return &DataError{Dataset: datasetGaugeStations, ID: g.ID, Reason: "invalid coordinate"}
		}
		if _, dup := seen[g.ID]; dup {
			return &DataError{Dataset: datasetGaugeStations, ID: g.ID, Reason: "duplicate station id"}
		}
		seen[g.ID] = struct{}{}
	}
	return nil
}
