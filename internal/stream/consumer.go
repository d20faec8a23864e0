// Package stream connects the relay to Kafka: a consumer that ingests
// location reports from a topic and a writer that publishes the accepted
// update history.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/campustrack/busrelay/internal/logging"
	"github.com/campustrack/busrelay/internal/relay"
)

// Ingester accepts location reports; *relay.Hub satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, r relay.LocationReport) (relay.Receipt, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig selects the report topic.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads JSON location reports from Kafka and ingests them.
type Consumer struct {
	reader   messageReader
	ingester Ingester
	topic    string
	log      logging.Logger
	backoff  time.Duration
}

// NewConsumer returns a Consumer reading cfg.Topic as member of cfg.GroupID.
func NewConsumer(cfg ConsumerConfig, ingester Ingester, log logging.Logger) *Consumer {
	if log == nil {
		log = logging.Noop()
	}
	errLog := log.With(logging.String("component", "kafka-reader"))
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    kafka.LastOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		Dialer:         &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true},
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			errLog.Warn(context.Background(), fmt.Sprintf(msg, args...))
		}),
	})
	return newConsumer(reader, ingester, cfg.Topic, log)
}

func newConsumer(reader messageReader, ingester Ingester, topic string, log logging.Logger) *Consumer {
	if log == nil {
		log = logging.Noop()
	}
	return &Consumer{
		reader:   reader,
		ingester: ingester,
		topic:    topic,
		log:      log,
		backoff:  5 * time.Second,
	}
}

// Run consumes until ctx is cancelled. Reports that fail validation are
// logged and committed so they are not redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info(ctx, "kafka consumer started", logging.String("topic", c.topic))
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.log.Warn(ctx, "kafka reader close failed", logging.Err(err))
		}
	}()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.log.Warn(ctx, "kafka fetch failed, retrying", logging.Err(err), logging.Duration("backoff", c.backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}
		c.handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Warn(ctx, "kafka commit failed", logging.Err(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	report, err := relay.DecodeReport(msg.Value)
	if err == nil {
		_, err = c.ingester.Ingest(ctx, report)
	}
	if err != nil {
		c.log.Warn(ctx, "kafka report dropped",
			logging.Int("partition", msg.Partition),
			logging.Any("offset", msg.Offset),
			logging.Err(err),
		)
	}
}
