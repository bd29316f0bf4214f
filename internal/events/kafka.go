package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"cinesync/internal/logging"
)

// KafkaOptions configures the Kafka writer.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// Kafka publishes events keyed by movie id so one movie's history stays on
// one partition.
type Kafka struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

// NewKafka builds a Kafka publisher. Connections are opened lazily on the
// first write.
func NewKafka(opts KafkaOptions, logger *zap.Logger) *Kafka {
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 50 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(opts.Brokers...),
		Topic:                  opts.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           opts.BatchTimeout,
		WriteTimeout:           opts.WriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Kafka{
		writer: writer,
		topic:  opts.Topic,
		logger: logging.NewComponentLogger(logger, "events"),
	}
}

// Publish writes one event.
func (k *Kafka) Publish(ctx context.Context, event Event) error {
	msg, err := buildMessage(event)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for movie %d: %w", event.Type, event.MovieID, err)
	}
	k.logger.Debug("event published",
		zap.String(logging.FieldEventType, event.Type),
		zap.Int64(logging.FieldMovieID, event.MovieID),
		zap.String("topic", k.topic),
	)
	return nil
}

// Close flushes pending writes.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

func buildMessage(event Event) (kafka.Message, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event: %w", err)
	}
	headers := []kafka.Header{{Key: "event_type", Value: []byte(event.Type)}}
	if event.RunID != "" {
		headers = append(headers, kafka.Header{Key: "run_id", Value: []byte(event.RunID)})
	}
	return kafka.Message{
		Key:     []byte(strconv.FormatInt(event.MovieID, 10)),
		Value:   value,
		Headers: headers,
		Time:    event.OccurredAt,
	}, nil
}
