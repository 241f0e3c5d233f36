package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/tide-gauge-imputation/internal/domain"
)

// RegionConfig is the parsed region configuration file.
type RegionConfig struct {
	Source      string
	LastUpdated string
	Regions     []domain.Region // sorted by id
	Projections domain.ProjectionRegistry

	// Rejected holds regions whose entries are unusable, keyed by region id.
	// They are reported as failed by the run instead of blocking the rest.
	Rejected map[string]error
}

type regionFile struct {
	Metadata struct {
		Source      string `yaml:"source"`
		LastUpdated string `yaml:"last_updated"`
	} `yaml:"metadata"`
	Projections *struct {
		Default   *projectionEntry           `yaml:"default"`
		Overrides map[string]projectionEntry `yaml:"overrides"`
	} `yaml:"projections"`
	Regions map[string]regionEntry `yaml:"regions"`
}

type regionEntry struct {
	Name               string           `yaml:"name"`
	StateCodes         []string         `yaml:"state_codes"`
	Projection         *projectionEntry `yaml:"projection"`
	SubRegions         []string         `yaml:"sub_regions"`
	DistanceMetric     string           `yaml:"distance_metric"`
	SearchRadiusMeters float64          `yaml:"search_radius_meters"`
}

type projectionEntry struct {
	Type  string  `yaml:"type"`
	Lat1  float64 `yaml:"lat_1"`
	Lat2  float64 `yaml:"lat_2"`
	Lat0  float64 `yaml:"lat_0"`
	Lon0  float64 `yaml:"lon_0"`
	Zone  int     `yaml:"zone"`
	South bool    `yaml:"south"`
}

func (e regionEntry) validate(id string) error {
	if e.Name == "" {
		return &domain.ConfigurationError{Region: id, Field: "name", Reason: "required"}
	}
	if e.SearchRadiusMeters < 0 {
		return &domain.ConfigurationError{Region: id, Field: "search_radius_meters", Reason: "must not be negative"}
	}
	return nil
}

func (p projectionEntry) toDomain() domain.Projection {
	return domain.Projection{
		Kind:  domain.ProjectionKind(p.Type),
		Lat1:  p.Lat1,
		Lat2:  p.Lat2,
		Lat0:  p.Lat0,
		Lon0:  p.Lon0,
		Zone:  p.Zone,
		South: p.South,
	}
}

// LoadRegions reads a region configuration file.
func LoadRegions(path string) (*RegionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region config: %w", err)
	}
	return ParseRegions(data)
}

// ParseRegions decodes region configuration YAML. Without a projections
// section the built-in registry is used; a projections section replaces it
// entirely. Malformed YAML or an empty regions section fails the whole file;
// a malformed region entry only lands in Rejected.
func ParseRegions(data []byte) (*RegionConfig, error) {
	var f regionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &domain.ConfigurationError{Field: "regions", Reason: err.Error()}
	}
	if len(f.Regions) == 0 {
		return nil, &domain.ConfigurationError{Field: "regions", Reason: "no regions configured"}
	}

	cfg := &RegionConfig{
		Source:      f.Metadata.Source,
		LastUpdated: f.Metadata.LastUpdated,
		Projections: domain.DefaultProjectionRegistry(),
		Rejected:    make(map[string]error),
	}
	if f.Projections != nil {
		cfg.Projections = domain.ProjectionRegistry{Overrides: make(map[string]domain.Projection, len(f.Projections.Overrides))}
		if f.Projections.Default != nil {
			def := f.Projections.Default.toDomain()
			cfg.Projections.Default = &def
		}
		for id, p := range f.Projections.Overrides {
			cfg.Projections.Overrides[id] = p.toDomain()
		}
	}

	ids := make([]string, 0, len(f.Regions))
	for id := range f.Regions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		e := f.Regions[id]
		if err := e.validate(id); err != nil {
			cfg.Rejected[id] = err
			continue
		}
		r := domain.Region{
			ID:                 id,
			Name:               e.Name,
			StateCodes:         e.StateCodes,
			SubRegions:         e.SubRegions,
			DistanceMetric:     domain.DistanceMetric(e.DistanceMetric),
			SearchRadiusMeters: e.SearchRadiusMeters,
		}
		if e.Projection != nil {
			p := e.Projection.toDomain()
			r.Projection = &p
		}
		cfg.Regions = append(cfg.Regions, r)
	}
	return cfg, nil
}
