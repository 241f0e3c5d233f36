package domain

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching across the typed errors below.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrData          = errors.New("data error")
	ErrValidation    = errors.New("validation error")
)

// ConfigurationError reports a missing or invalid region or projection setting.
// It is fatal to the region being processed and non-fatal to the batch.
type ConfigurationError struct {
	Region string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Region == "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration error: region %q: %s: %s", e.Region, e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// DataError reports a malformed or empty input dataset.
type DataError struct {
	Dataset string // "reference_points" or "gauge_stations"
	ID      string // offending record, empty for dataset-wide problems
	Reason  string
}

func (e *DataError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("data error: %s: %s", e.Dataset, e.Reason)
	}
	return fmt.Sprintf("data error: %s %q: %s", e.Dataset, e.ID, e.Reason)
}

func (e *DataError) Is(target error) bool { return target == ErrData }

// ValidationError reports an invalid weight calculation parameter.
type ValidationError struct {
	Param  string
	Value  float64
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s=%g: %s", e.Param, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
