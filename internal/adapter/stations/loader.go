package stations

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/couchcryptid/tide-gauge-imputation/internal/domain"
)

const dataset = "gauge_stations"

// Station is one entry of the gauge registry file. The registry uses "lng"
// for longitude. Coordinates are pointers so an absent field is not read as 0.
type Station struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	SubRegion string   `json:"sub_region,omitempty"`
}

// Loader reads a JSON array of stations.
type Loader struct {
	path string
}

// NewLoader creates a loader for path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// LoadGaugeStations implements pipeline.GaugeStationLoader.
func (l *Loader) LoadGaugeStations(_ context.Context) ([]domain.GaugeStation, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read gauge stations: %w", err)
	}
	return Parse(data)
}

// Parse decodes registry JSON. An entry without lat or lng is a DataError;
// range and duplicate checks happen in the domain.
func Parse(data []byte) ([]domain.GaugeStation, error) {
	var entries []Station
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &domain.DataError{Dataset: dataset, Reason: "invalid JSON: " + err.Error()}
	}
	out := make([]domain.GaugeStation, len(entries))
	for i, e := range entries {
		if e.Lat == nil || e.Lng == nil {
			id := e.ID
			if id == "" {
				id = "#" + strconv.Itoa(i)
			}
			return nil, &domain.DataError{Dataset: dataset, ID: id, Reason: "missing coordinate"}
		}
		out[i] = domain.GaugeStation{
			ID:        e.ID,
			Name:      e.Name,
			Geo:       domain.Geo{Lat: *e.Lat, Lon: *e.Lng},
			SubRegion: e.SubRegion,
		}
	}
	return out, nil
}

// Write stores stations in registry format.
func Write(path string, gauges []domain.GaugeStation) error {
	entries := make([]Station, len(gauges))
	for i, g := range gauges {
		lat, lng := g.Geo.Lat, g.Geo.Lon
		entries[i] = Station{ID: g.ID, Name: g.Name, Lat: &lat, Lng: &lng, SubRegion: g.SubRegion}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize gauge stations: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
