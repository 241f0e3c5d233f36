package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/tide-gauge-imputation/internal/config"
	"github.com/couchcryptid/tide-gauge-imputation/internal/pipeline"
)

// ArtifactEvent is the message published for every artifact written.
type ArtifactEvent struct {
	Region          string    `json:"region"`
	RegionName      string    `json:"region_name"`
	Path            string    `json:"path"`
	GeneratedAt     time.Time `json:"generated_at"`
	Records         int       `json:"records"`
	ReferencePoints int       `json:"reference_points"`
	MappedPoints    int       `json:"mapped_points"`
	UnmappedPoints  int       `json:"unmapped_points"`
	Stations        int       `json:"stations"`
	MeanDistance    float64   `json:"mean_distance_m"`
	MeanWeight      float64   `json:"mean_weight"`
}

// Writer publishes artifact notifications to a Kafka topic.
// It implements pipeline.ArtifactSink.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured artifact topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaArtifactTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Name implements pipeline.ArtifactSink.
func (w *Writer) Name() string { return "kafka" }

// Publish sends one message keyed by region, so a region's artifacts stay
// ordered on a single partition.
func (w *Writer) Publish(ctx context.Context, a pipeline.Artifact) error {
	msg, err := serializeToMessage(a)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish artifact event: %w", err)
	}
	w.logger.Debug("artifact event published", "region", a.Region, "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an artifact into a Kafka message.
func serializeToMessage(a pipeline.Artifact) (kafkago.Message, error) {
	event := ArtifactEvent{
		Region:          a.Region,
		RegionName:      a.RegionName,
		Path:            a.Path,
		GeneratedAt:     a.GeneratedAt.UTC(),
		Records:         a.Records,
		ReferencePoints: a.Summary.ReferencePoints,
		MappedPoints:    a.Summary.MappedPoints,
		UnmappedPoints:  a.Summary.UnmappedPoints,
		Stations:        a.Summary.Stations,
		MeanDistance:    a.Summary.MeanDistance,
		MeanWeight:      a.Summary.MeanWeight,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize artifact event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(a.Region),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "region", Value: []byte(a.Region)},
			{Key: "generated_at", Value: []byte(event.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}

// DecodeMessage parses a message produced by Publish.
func DecodeMessage(msg kafkago.Message) (ArtifactEvent, error) {
	var event ArtifactEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return ArtifactEvent{}, fmt.Errorf("decode artifact event: %w", err)
	}
	return event, nil
}
