// Package publish emits advisory records to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kjstillabower/field-advisory/internal/models"
	"github.com/kjstillabower/field-advisory/internal/observability"
)

// Publisher emits one record per advisory run.
type Publisher interface {
	Publish(ctx context.Context, rec models.AdvisoryRecord) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaWriter produces advisory records to a topic, keyed by record ID.
type KafkaWriter struct {
	writer messageWriter
	logger *zap.Logger
}

func NewKafkaWriter(brokers []string, topic string, logger *zap.Logger) *KafkaWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return &KafkaWriter{writer: w, logger: logger}
}

func (w *KafkaWriter) Publish(ctx context.Context, rec models.AdvisoryRecord) error {
	msg, err := serializeToMessage(rec)
	if err != nil {
		observability.RecordsPublishedTotal.WithLabelValues("error").Inc()
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		observability.RecordsPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("publish advisory record: %w", err)
	}
	observability.RecordsPublishedTotal.WithLabelValues("published").Inc()
	w.logger.Debug("advisory record published", zap.String("record_id", rec.ID))
	return nil
}

func (w *KafkaWriter) Close() error {
	return w.writer.Close()
}

func serializeToMessage(rec models.AdvisoryRecord) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize advisory record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "risk_score", Value: []byte(strconv.Itoa(rec.Risk.Score))},
			{Key: "generated_at", Value: []byte(rec.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}

// Nop discards records. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, models.AdvisoryRecord) error { return nil }
func (Nop) Close() error                                         { return nil }
