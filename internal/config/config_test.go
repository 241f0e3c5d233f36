package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tide-gauge-imputation/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data/processed/reference_points.parquet", cfg.ReferencePointsPath)
	assert.Equal(t, "config/tide_stations.json", cfg.GaugeStationsPath)
	assert.Equal(t, "config/region_mappings.yaml", cfg.RegionConfigPath)
	assert.Equal(t, "output/imputation", cfg.OutputDir)
	assert.Equal(t, 0, cfg.Workers)
	assert.Zero(t, cfg.RegionTimeout)
	assert.Equal(t, domain.DefaultWeightParams(), cfg.Weights)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "imputation-artifacts", cfg.KafkaArtifactTopic)
	assert.Empty(t, cfg.S3Bucket)
	assert.Equal(t, "us-east-1", cfg.S3Region)
	assert.False(t, cfg.S3PathStyle)
	assert.Equal(t, "imputation", cfg.S3Prefix)
	assert.Empty(t, cfg.LedgerPath)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("REFERENCE_POINTS_PATH", "/data/points.parquet")
	t.Setenv("GAUGE_STATIONS_PATH", "/data/stations.json")
	t.Setenv("REGION_CONFIG_PATH", "/data/regions.yaml")
	t.Setenv("OUTPUT_DIR", "/out")
	t.Setenv("WORKERS", "3")
	t.Setenv("REGION_TIMEOUT", "2m")
	t.Setenv("MAX_DISTANCE_METERS", "50000")
	t.Setenv("IDW_POWER", "1.5")
	t.Setenv("MIN_WEIGHT", "0")
	t.Setenv("UNMAPPED_POLICY", "Nearest")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("KAFKA_ARTIFACT_TOPIC", "artifacts")
	t.Setenv("ARTIFACT_S3_BUCKET", "tides")
	t.Setenv("ARTIFACT_S3_REGION", "us-west-2")
	t.Setenv("ARTIFACT_S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("ARTIFACT_S3_PATH_STYLE", "true")
	t.Setenv("ARTIFACT_S3_PREFIX", "runs")
	t.Setenv("LEDGER_PATH", "/out/ledger.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/points.parquet", cfg.ReferencePointsPath)
	assert.Equal(t, "/data/stations.json", cfg.GaugeStationsPath)
	assert.Equal(t, "/data/regions.yaml", cfg.RegionConfigPath)
	assert.Equal(t, "/out", cfg.OutputDir)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 2*time.Minute, cfg.RegionTimeout)
	assert.Equal(t, domain.WeightParams{
		MaxDistanceMeters: 50000,
		Power:             1.5,
		MinWeight:         0,
		Unmapped:          domain.UnmappedNearest,
	}, cfg.Weights)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "artifacts", cfg.KafkaArtifactTopic)
	assert.Equal(t, "tides", cfg.S3Bucket)
	assert.Equal(t, "us-west-2", cfg.S3Region)
	assert.Equal(t, "http://localhost:9000", cfg.S3Endpoint)
	assert.True(t, cfg.S3PathStyle)
	assert.Equal(t, "runs", cfg.S3Prefix)
	assert.Equal(t, "/out/ledger.db", cfg.LedgerPath)
}

func TestLoad_InvalidValuesNameTheVariable(t *testing.T) {
	cases := map[string]string{
		"SHUTDOWN_TIMEOUT":       "not-a-duration",
		"REGION_TIMEOUT":         "-1s",
		"WORKERS":                "many",
		"MAX_DISTANCE_METERS":    "far",
		"IDW_POWER":              "two",
		"MIN_WEIGHT":             "low",
		"ARTIFACT_S3_PATH_STYLE": "maybe",
		"LOG_FORMAT":             "xml",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_ZeroShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "0s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_NegativeWorkers(t *testing.T) {
	t.Setenv("WORKERS", "-1")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKERS")
}

func TestLoad_InvalidWeightSettings(t *testing.T) {
	t.Setenv("IDW_POWER", "0")
	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLoad_UnknownUnmappedPolicy(t *testing.T) {
	t.Setenv("UNMAPPED_POLICY", "interpolate")
	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imputation.env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_PATH=/tmp/ledger.db\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("LOG_LEVEL", "warn")
	t.Cleanup(func() { os.Unsetenv("LEDGER_PATH") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ledger.db", cfg.LedgerPath)
	assert.Equal(t, "warn", cfg.LogLevel, "process environment wins over the file")
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	_, err := Load()
	require.NoError(t, err)
}
