package parquet

import (
	"context"
	"fmt"

	parquetgo "github.com/parquet-go/parquet-go"

	"github.com/couchcryptid/tide-gauge-imputation/internal/domain"
)

// referencePointRow is the on-disk layout of the reference point dataset.
// Region is empty for points that are assigned by county FIPS.
type referencePointRow struct {
	ID         string  `parquet:"reference_point_id"`
	CountyFIPS string  `parquet:"county_fips"`
	Region     string  `parquet:"region"`
	Lat        float64 `parquet:"lat"`
	Lon        float64 `parquet:"lon"`
}

// ReferencePointReader loads reference points from a parquet file.
type ReferencePointReader struct {
	path string
}

// NewReferencePointReader creates a reader for path.
func NewReferencePointReader(path string) *ReferencePointReader {
	return &ReferencePointReader{path: path}
}

// LoadReferencePoints implements pipeline.ReferencePointLoader.
func (r *ReferencePointReader) LoadReferencePoints(_ context.Context) ([]domain.ReferencePoint, error) {
	rows, err := parquetgo.ReadFile[referencePointRow](r.path)
	if err != nil {
		return nil, fmt.Errorf("read reference points %s: %w", r.path, err)
	}
	points := make([]domain.ReferencePoint, len(rows))
	for i, row := range rows {
		points[i] = domain.ReferencePoint{
			ID:         row.ID,
			Geo:        domain.Geo{Lat: row.Lat, Lon: row.Lon},
			CountyFIPS: row.CountyFIPS,
			RegionID:   row.Region,
		}
	}
	return points, nil
}

// WriteReferencePoints writes points in the layout LoadReferencePoints reads.
func WriteReferencePoints(path string, points []domain.ReferencePoint) error {
	rows := make([]referencePointRow, len(points))
	for i, p := range points {
		rows[i] = referencePointRow{
			ID:         p.ID,
			CountyFIPS: p.CountyFIPS,
			Region:     p.RegionID,
			Lat:        p.Geo.Lat,
			Lon:        p.Geo.Lon,
		}
	}
	if err := parquetgo.WriteFile(path, rows); err != nil {
		return fmt.Errorf("write reference points %s: %w", path, err)
	}
	return nil
}
