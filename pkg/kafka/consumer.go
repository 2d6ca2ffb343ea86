package kafka

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// MessageHandler processes one list job.
type MessageHandler func(ctx context.Context, msg *IncomingMessage) error

// reader is the part of *kafka.Reader the consumer drives.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	jobProcessed = "processed"
	jobMalformed = "malformed"
	jobFailed    = "failed"
)

// Consumer reads list jobs and hands them to a handler. A job's offset is
// committed once the handler succeeds or the job is found to be malformed.
// Failed jobs stay uncommitted and are redelivered.
type Consumer struct {
	reader     reader
	topic      string
	logger     ectologger.Logger
	handler    MessageHandler
	retryDelay time.Duration
	healthy    atomic.Bool
	cancel     context.CancelFunc
	done       chan struct{}
}

type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	// RetryDelay is the pause after a failed fetch. Defaults to one second.
	RetryDelay time.Duration
}

func NewConsumer(cfg config.Config, logger ectologger.Logger, handler MessageHandler) *Consumer {
	return NewConsumerWithConfig(ConsumerConfig{
		Brokers:       cfg.KafkaBrokers,
		Topic:         cfg.KafkaInputTopic,
		ConsumerGroup: cfg.KafkaConsumerGroup,
	}, logger, handler)
}

func NewConsumerWithConfig(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    1e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
		// list jobs are slow; commit each one as soon as it is done
		CommitInterval: 0,
	})
	return newConsumer(r, cfg.Topic, cfg.RetryDelay, logger, handler)
}

func newConsumer(r reader, topic string, retryDelay time.Duration, logger ectologger.Logger, handler MessageHandler) *Consumer {
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Consumer{
		reader:     r,
		topic:      topic,
		logger:     logger,
		handler:    handler,
		retryDelay: retryDelay,
	}
}

// Start runs the fetch loop in the background until Stop is called or ctx ends.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.healthy.Store(true)

	go c.run(ctx)

	c.logger.WithContext(ctx).WithField("topic", c.topic).Info("Kafka consumer started")
	return nil
}

// Stop waits for the job in flight, then closes the reader.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	return c.reader.Close()
}

// Health reports false while fetches from the broker are failing.
func (c *Consumer) Health() bool {
	return c.healthy.Load()
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		switch {
		case err == nil:
			c.healthy.Store(true)
			c.handle(ctx, msg)
		case ctx.Err() != nil || errors.Is(err, io.EOF):
			c.logger.WithContext(ctx).WithField("topic", c.topic).Info("Kafka consumer stopping")
			return
		default:
			c.healthy.Store(false)
			c.logger.WithContext(ctx).WithError(err).WithField("topic", c.topic).Error("Failed to fetch message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryDelay):
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.handle")
	defer span.End()

	start := time.Now()
	outcome := c.dispatch(ctx, msg)
	metrics.ListJobsTotal.WithLabelValues(outcome).Inc()
	metrics.ListJobDuration.Observe(time.Since(start).Seconds())

	if outcome == jobFailed {
		return
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Error("Failed to commit list job")
	}
}

// dispatch parses and runs one job, returning its outcome label.
func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message) string {
	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	incoming := newIncomingMessage(msg)
	if err := incoming.ParseListJob(); err != nil {
		log.WithError(err).Error("Dropping malformed list job")
		return jobMalformed
	}

	if err := c.handler(ctx, incoming); err != nil {
		log.WithError(err).WithField("source_id", incoming.Job.SourceID).Error("List job failed; leaving it for redelivery")
		return jobFailed
	}
	return jobProcessed
}

func newIncomingMessage(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Topic:     msg.Topic,
	}
}
