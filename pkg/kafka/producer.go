package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const schemaVersion = "1.0"

// Producer publishes match decisions.
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

func ProducerConfigFrom(cfg config.Config) ProducerConfig {
	return ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}
}

func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compressionCodec(cfg.Compression),
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

func compressionCodec(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	case "none":
		return 0
	default:
		return kafka.Snappy
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishMatchEvents writes one message per event, keyed by list item so the
// decisions for an item stay ordered within a partition.
func (p *Producer) PublishMatchEvents(ctx context.Context, events []models.MatchEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishMatchEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages, err := matchMessages(p.topic, events)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish match events")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
	}).Debug("Published match events")
	return nil
}

func matchMessages(topic string, events []models.MatchEvent) ([]kafka.Message, error) {
	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		if event.OccurredAt.IsZero() {
			event.OccurredAt = time.Now().UTC()
		}

		data, err := json.Marshal(event)
		if err != nil {
			return nil, err
		}

		messages[i] = kafka.Message{
			Topic: topic,
			Key:   []byte(event.ListItemID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte("facility.match." + string(event.Status))},
				{Key: "source_id", Value: []byte(event.SourceID)},
				{Key: "schema_version", Value: []byte(schemaVersion)},
			},
		}
	}
	return messages, nil
}
