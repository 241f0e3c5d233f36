package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/couchcryptid/tide-gauge-imputation/internal/pipeline"
)

// Entry is one ledger row.
type Entry struct {
	Region         string
	RegionName     string
	Path           string
	GeneratedAt    time.Time
	Records        int
	UnmappedPoints int
	MeanDistance   float64
	MeanWeight     float64
}

// Ledger records every artifact a run produces. Rows are only ever appended.
// It implements pipeline.ArtifactSink.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		region          TEXT    NOT NULL,
		region_name     TEXT    NOT NULL,
		path            TEXT    NOT NULL UNIQUE,
		generated_at    TEXT    NOT NULL,
		records         INTEGER NOT NULL,
		unmapped_points INTEGER NOT NULL,
		mean_distance_m REAL    NOT NULL,
		mean_weight     REAL    NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create artifacts table: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Name implements pipeline.ArtifactSink.
func (l *Ledger) Name() string { return "ledger" }

// Publish appends the artifact.
func (l *Ledger) Publish(ctx context.Context, a pipeline.Artifact) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO artifacts (region, region_name, path, generated_at, records, unmapped_points, mean_distance_m, mean_weight)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Region, a.RegionName, a.Path, a.GeneratedAt.UTC().Format(time.RFC3339),
		a.Records, a.Summary.UnmappedPoints, a.Summary.MeanDistance, a.Summary.MeanWeight,
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// Latest returns the most recent artifact for a region, or sql.ErrNoRows.
func (l *Ledger) Latest(ctx context.Context, region string) (Entry, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT region, region_name, path, generated_at, records, unmapped_points, mean_distance_m, mean_weight
		 FROM artifacts WHERE region = ? ORDER BY generated_at DESC, id DESC LIMIT 1`, region)
	return scanEntry(row)
}

// List returns every entry in insertion order.
func (l *Ledger) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT region, region_name, path, generated_at, records, unmapped_points, mean_distance_m, mean_weight
		 FROM artifacts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var generatedAt string
	if err := s.Scan(&e.Region, &e.RegionName, &e.Path, &generatedAt, &e.Records, &e.UnmappedPoints, &e.MeanDistance, &e.MeanWeight); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan artifact: %w", err)
	}
	t, err := time.Parse(time.RFC3339, generatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse generated_at: %w", err)
	}
	e.GeneratedAt = t
	return e, nil
}
