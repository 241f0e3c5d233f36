package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/tide-gauge-imputation/internal/domain"
)

// Config holds all run settings, populated from environment variables.
type Config struct {
	ReferencePointsPath string
	GaugeStationsPath   string
	RegionConfigPath    string
	OutputDir           string

	Workers       int
	RegionTimeout time.Duration
	Weights       domain.WeightParams

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Artifact sinks. Each is disabled while its address is empty.
	KafkaBrokers       []string
	KafkaArtifactTopic string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
	S3Prefix    string

	LedgerPath string
}

// Load reads configuration from environment variables, applying defaults where unset.
// Variables from ENV_FILE (default .env) are loaded first without overriding the
// process environment; a missing file is not an error.
func Load() (*Config, error) {
	if err := loadEnvFile(envOrDefault("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s", false)
	if err != nil {
		return nil, err
	}
	regionTimeout, err := parseDuration("REGION_TIMEOUT", "0", true)
	if err != nil {
		return nil, err
	}
	workers, err := parseInt("WORKERS", 0)
	if err != nil {
		return nil, err
	}
	if workers < 0 {
		return nil, errors.New("invalid WORKERS: must not be negative")
	}

	weights, err := parseWeights()
	if err != nil {
		return nil, err
	}

	pathStyle, err := parseBool("ARTIFACT_S3_PATH_STYLE", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ReferencePointsPath: envOrDefault("REFERENCE_POINTS_PATH", "data/processed/reference_points.parquet"),
		GaugeStationsPath:   envOrDefault("GAUGE_STATIONS_PATH", "config/tide_stations.json"),
		RegionConfigPath:    envOrDefault("REGION_CONFIG_PATH", "config/region_mappings.yaml"),
		OutputDir:           envOrDefault("OUTPUT_DIR", "output/imputation"),
		Workers:             workers,
		RegionTimeout:       regionTimeout,
		Weights:             weights,
		HTTPAddr:            os.Getenv("HTTP_ADDR"),
		LogLevel:            envOrDefault("LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:     shutdownTimeout,
		KafkaBrokers:        parseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaArtifactTopic:  envOrDefault("KAFKA_ARTIFACT_TOPIC", "imputation-artifacts"),
		S3Bucket:            os.Getenv("ARTIFACT_S3_BUCKET"),
		S3Region:            envOrDefault("ARTIFACT_S3_REGION", "us-east-1"),
		S3Endpoint:          os.Getenv("ARTIFACT_S3_ENDPOINT"),
		S3PathStyle:         pathStyle,
		S3Prefix:            envOrDefault("ARTIFACT_S3_PREFIX", "imputation"),
		LedgerPath:          os.Getenv("LEDGER_PATH"),
	}

	if cfg.OutputDir == "" {
		return nil, errors.New("OUTPUT_DIR is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaArtifactTopic == "" {
		return nil, errors.New("KAFKA_ARTIFACT_TOPIC is required when KAFKA_BROKERS is set")
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: must be json or text", cfg.LogFormat)
	}

	return cfg, nil
}

func parseWeights() (domain.WeightParams, error) {
	p := domain.DefaultWeightParams()
	var err error
	if p.MaxDistanceMeters, err = parseFloat("MAX_DISTANCE_METERS", p.MaxDistanceMeters); err != nil {
		return p, err
	}
	if p.Power, err = parseFloat("IDW_POWER", p.Power); err != nil {
		return p, err
	}
	if p.MinWeight, err = parseFloat("MIN_WEIGHT", p.MinWeight); err != nil {
		return p, err
	}
	p.Unmapped = domain.UnmappedPolicy(strings.ToLower(envOrDefault("UNMAPPED_POLICY", string(p.Unmapped))))
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid weight settings: %w", err)
	}
	return p, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("invalid ENV_FILE %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func parseDuration(key, fallback string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseFloat(key string, fallback float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func parseBool(key string, fallback bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
