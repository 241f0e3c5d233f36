package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/tide-gauge-imputation/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/tide-gauge-imputation/internal/adapter/kafka"
	"github.com/couchcryptid/tide-gauge-imputation/internal/adapter/parquet"
	s3adapter "github.com/couchcryptid/tide-gauge-imputation/internal/adapter/s3"
	"github.com/couchcryptid/tide-gauge-imputation/internal/adapter/sqlite"
	"github.com/couchcryptid/tide-gauge-imputation/internal/adapter/stations"
	"github.com/couchcryptid/tide-gauge-imputation/internal/config"
	"github.com/couchcryptid/tide-gauge-imputation/internal/observability"
	"github.com/couchcryptid/tide-gauge-imputation/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	regions, err := config.LoadRegions(cfg.RegionConfigPath)
	if err != nil {
		logger.Error("failed to load region config", "path", cfg.RegionConfigPath, "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sinks, closers, err := buildSinks(ctx, cfg, logger)
	defer func() {
		for _, c := range closers {
			if err := c.close(); err != nil {
				logger.Error("sink close error", "sink", c.name, "error", err)
			}
		}
	}()
	if err != nil {
		logger.Error("failed to initialize artifact sinks", "error", err)
		return 1
	}

	processor, err := pipeline.NewRegionProcessor(regions.Projections, cfg.Weights, observability.NewLogReporter(logger, metrics), logger)
	if err != nil {
		logger.Error("invalid weight parameters", "error", err)
		return 1
	}

	orchestrator := pipeline.NewOrchestrator(
		parquet.NewReferencePointReader(cfg.ReferencePointsPath),
		stations.NewLoader(cfg.GaugeStationsPath),
		regions.Regions,
		processor,
		parquet.NewArtifactWriter(cfg.OutputDir),
		logger,
		metrics,
		pipeline.Options{
			Workers:       cfg.Workers,
			RegionTimeout: cfg.RegionTimeout,
			Sinks:         sinks,
			Rejected:      regions.Rejected,
			ConfigSource:  regions.Source,
			ConfigUpdated: regions.LastUpdated,
		},
	)

	// The HTTP surface only lives as long as the run.
	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, orchestrator, orchestrator, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	artifacts, runErr := orchestrator.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}

	if runErr != nil {
		logger.Error("imputation run failed", "error", runErr)
		return 1
	}
	for region, path := range artifacts {
		logger.Info("artifact", "region", region, "path", path)
	}
	logger.Info("imputation complete", "artifacts", len(artifacts), "regions", len(regions.Regions))
	return 0
}

type closer struct {
	name  string
	close func() error
}

// buildSinks enables each artifact sink whose address is configured. Closers
// for sinks opened before a failure are still returned.
func buildSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]pipeline.ArtifactSink, []closer, error) {
	var sinks []pipeline.ArtifactSink
	var closers []closer

	if len(cfg.KafkaBrokers) > 0 {
		w := kafkaadapter.NewWriter(cfg, logger)
		sinks = append(sinks, w)
		closers = append(closers, closer{name: w.Name(), close: w.Close})
		logger.Info("kafka artifact events enabled", "topic", cfg.KafkaArtifactTopic, "brokers", cfg.KafkaBrokers)
	}

	if cfg.S3Bucket != "" {
		m, err := s3adapter.New(ctx, s3adapter.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			Prefix:    cfg.S3Prefix,
		})
		if err != nil {
			return nil, closers, err
		}
		sinks = append(sinks, m)
		logger.Info("s3 artifact mirror enabled", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
	}

	if cfg.LedgerPath != "" {
		l, err := sqlite.Open(cfg.LedgerPath)
		if err != nil {
			return nil, closers, err
		}
		sinks = append(sinks, l)
		closers = append(closers, closer{name: l.Name(), close: l.Close})
		logger.Info("artifact ledger enabled", "path", cfg.LedgerPath)
	}

	return sinks, closers, nil
}
