package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
)

// ProjectionKind names a family of map projections.
type ProjectionKind string

const (
	ProjectionAlbers   ProjectionKind = "albers"
	ProjectionLambert  ProjectionKind = "lambert"
	ProjectionUTM      ProjectionKind = "utm"
	ProjectionMercator ProjectionKind = "mercator"
)

// wgs84 is the geographic source system of every input coordinate.
const wgs84 = "+proj=longlat +datum=WGS84 +no_defs"

// Projection describes a projected coordinate system by its parameters rather
// than a library-specific definition string. Albers and Lambert use both
// standard parallels and the origin; UTM uses Zone and South; Mercator uses Lon0.
type Projection struct {
	Kind  ProjectionKind
	Lat1  float64
	Lat2  float64
	Lat0  float64
	Lon0  float64
	Zone  int
	South bool
}

// Validate reports a ConfigurationError for unknown kinds or out-of-range
// parameters.
func (p Projection) Validate() error {
	bad := func(field, reason string) error {
		return &ConfigurationError{Field: "projection." + field, Reason: reason}
	}
	switch p.Kind {
	case ProjectionAlbers, ProjectionLambert:
		lats := []struct {
			name string
			v    float64
		}{{"lat_1", p.Lat1}, {"lat_2", p.Lat2}, {"lat_0", p.Lat0}}
		for _, lat := range lats {
			if math.IsNaN(lat.v) || lat.v < -90 || lat.v > 90 {
				return bad(lat.name, "latitude out of range")
			}
		}
		if math.Abs(p.Lat1+p.Lat2) < 1e-9 {
			return bad("lat_1", "standard parallels must not be symmetric about the equator")
		}
	case ProjectionUTM:
		if p.Zone < 1 || p.Zone > 60 {
			return bad("zone", "must be between 1 and 60")
		}
		return nil
	case ProjectionMercator:
	default:
		return bad("type", fmt.Sprintf("unknown projection type %q", p.Kind))
	}
	if math.IsNaN(p.Lon0) || p.Lon0 < -180 || p.Lon0 > 180 {
		return bad("lon_0", "longitude out of range")
	}
	return nil
}

// Definition renders the descriptor as a proj4 definition.
func (p Projection) Definition() string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	var b strings.Builder
	switch p.Kind {
	case ProjectionAlbers, ProjectionLambert:
		name := "aea"
		if p.Kind == ProjectionLambert {
			name = "lcc"
		}
		fmt.Fprintf(&b, "+proj=%s +lat_1=%s +lat_2=%s +lat_0=%s +lon_0=%s +x_0=0 +y_0=0",
			name, f(p.Lat1), f(p.Lat2), f(p.Lat0), f(p.Lon0))
	case ProjectionUTM:
		fmt.Fprintf(&b, "+proj=utm +zone=%d", p.Zone)
		if p.South {
			b.WriteString(" +south")
		}
	case ProjectionMercator:
		fmt.Fprintf(&b, "+proj=merc +lon_0=%s +k=1 +x_0=0 +y_0=0", f(p.Lon0))
	}
	b.WriteString(" +datum=WGS84 +units=m +no_defs")
	return b.String()
}

// Projector converts WGS-84 coordinates into projected meters.
type Projector func(g Geo) (x, y float64, err error)

// Projector builds a WGS-84 to projected transform for the descriptor.
func (p Projection) Projector() (Projector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	src, err := proj.Parse(wgs84)
	if err != nil {
		return nil, fmt.Errorf("parse source projection: %w", err)
	}
	dst, err := proj.Parse(p.Definition())
	if err != nil {
		return nil, &ConfigurationError{Field: "projection", Reason: err.Error()}
	}
	t, err := src.NewTransform(dst)
	if err != nil {
		return nil, &ConfigurationError{Field: "projection", Reason: err.Error()}
	}
	return func(g Geo) (float64, float64, error) {
		x, y, err := t(g.Lon, g.Lat)
		if err != nil {
			return 0, 0, err
		}
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			return 0, 0, fmt.Errorf("coordinate (%g, %g) outside projection domain", g.Lon, g.Lat)
		}
		return x, y, nil
	}, nil
}

// ProjectionRegistry picks a projection per region: explicit region setting
// first, then a named override, then the default.
type ProjectionRegistry struct {
	Default   *Projection
	Overrides map[string]Projection
}

// Albers equal-area parameters for the coastal areas the pipeline covers.
var (
	conusAlbers     = Projection{Kind: ProjectionAlbers, Lat1: 20, Lat2: 60, Lat0: 40, Lon0: -96}
	alaskaAlbers    = Projection{Kind: ProjectionAlbers, Lat1: 55, Lat2: 65, Lat0: 50, Lon0: -154}
	hawaiiAlbers    = Projection{Kind: ProjectionAlbers, Lat1: 8, Lat2: 18, Lat0: 13, Lon0: -157}
	westCoastAlbers = Projection{Kind: ProjectionAlbers, Lat1: 34, Lat2: 45.5, Lat0: 40, Lon0: -120}
)

// DefaultProjectionRegistry returns the CONUS Albers default with overrides
// for regions outside its useful extent.
func DefaultProjectionRegistry() ProjectionRegistry {
	def := conusAlbers
	return ProjectionRegistry{
		Default: &def,
		Overrides: map[string]Projection{
			"alaska":     alaskaAlbers,
			"hawaii":     hawaiiAlbers,
			"west_coast": westCoastAlbers,
		},
	}
}

// Resolve returns the projection for a region.
func (r ProjectionRegistry) Resolve(region Region) (Projection, error) {
	if region.Projection != nil {
		return *region.Projection, nil
	}
	if p, ok := r.Overrides[strings.ToLower(region.ID)]; ok {
		return p, nil
	}
	if r.Default != nil {
		return *r.Default, nil
	}
	return Projection{}, &ConfigurationError{
		Region: region.ID,
		Field:  "projection",
		Reason: "no override for region and no default projection",
	}
}
