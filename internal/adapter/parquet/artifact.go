package parquet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	parquetgo "github.com/parquet-go/parquet-go"

	"github.com/couchcryptid/tide-gauge-imputation/internal/domain"
)

const (
	artifactPrefix    = "imputation_structure_"
	artifactExt       = ".parquet"
	artifactTimestamp = "20060102_150405"

	maxArtifactSeq = 100
)

// mappingRow is one artifact row. Column names are part of the downstream contract.
type mappingRow struct {
	ReferencePointID string  `parquet:"reference_point_id,zstd"`
	CountyFIPS       string  `parquet:"county_fips,zstd,dict"`
	Region           string  `parquet:"region,zstd,dict"`
	RegionName       string  `parquet:"region_name,zstd,dict"`
	StationID        string  `parquet:"station_id,zstd,dict"`
	StationName      string  `parquet:"station_name,zstd,dict"`
	SubRegion        string  `parquet:"sub_region,zstd,dict"`
	DistanceMeters   float64 `parquet:"distance_meters,zstd"`
	Weight           float64 `parquet:"weight,zstd"`
	Fallback         bool    `parquet:"fallback,zstd"`
}

// ArtifactName returns the file name for a region artifact generated at t.
func ArtifactName(region string, t time.Time) string {
	return artifactPrefix + region + "_" + t.UTC().Format(artifactTimestamp) + artifactExt
}

// artifactName appends a sequence number when an earlier run in the same
// second already holds the plain name.
func artifactName(region string, t time.Time, seq int) string {
	if seq == 0 {
		return ArtifactName(region, t)
	}
	return artifactPrefix + region + "_" + t.UTC().Format(artifactTimestamp) + "_" + strconv.Itoa(seq) + artifactExt
}

// ArtifactWriter writes region artifacts into a directory. Files are created
// exclusively, so an existing artifact is never replaced; a run that collides
// with an earlier one in the same second gets a numbered name instead.
type ArtifactWriter struct {
	dir string
}

// NewArtifactWriter creates a writer for dir. The directory is created on first write.
func NewArtifactWriter(dir string) *ArtifactWriter {
	return &ArtifactWriter{dir: dir}
}

// WriteArtifact implements pipeline.ArtifactWriter.
func (w *ArtifactWriter) WriteArtifact(_ context.Context, region string, generatedAt time.Time, records []domain.MappingRecord) (path string, err error) {
	if region == "" || strings.ContainsAny(region, `/\`) {
		return "", fmt.Errorf("invalid region id %q for artifact name", region)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	var f *os.File
	for seq := 0; ; seq++ {
		path = filepath.Join(w.dir, artifactName(region, generatedAt, seq))
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) || seq+1 >= maxArtifactSeq {
			return "", fmt.Errorf("create artifact: %w", err)
		}
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			path = ""
		}
	}()

	rows := make([]mappingRow, len(records))
	for i, r := range records {
		rows[i] = mappingRow(r)
	}

	pw := parquetgo.NewGenericWriter[mappingRow](f,
		parquetgo.KeyValueMetadata("region", region),
		parquetgo.KeyValueMetadata("generated_at", generatedAt.UTC().Format(time.RFC3339)),
	)
	if _, err = pw.Write(rows); err != nil {
		return "", fmt.Errorf("write artifact rows: %w", err)
	}
	if err = pw.Close(); err != nil {
		return "", fmt.Errorf("finish artifact: %w", err)
	}
	if err = f.Sync(); err != nil {
		return "", fmt.Errorf("sync artifact: %w", err)
	}
	if err = f.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	return path, nil
}

// ReadArtifact reads every record of an artifact file.
func ReadArtifact(path string) ([]domain.MappingRecord, error) {
	rows, err := parquetgo.ReadFile[mappingRow](path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	records := make([]domain.MappingRecord, len(rows))
	for i, r := range rows {
		records[i] = domain.MappingRecord(r)
	}
	return records, nil
}

// ListArtifacts returns the artifact files in dir, sorted by name.
func ListArtifacts(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, artifactPrefix+"*"+artifactExt))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		if _, statErr := os.Stat(dir); errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("artifact dir %s: %w", dir, statErr)
		}
	}
	sort.Strings(matches)
	return matches, nil
}
