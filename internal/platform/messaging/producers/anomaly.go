package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cardbridge-reconciler/internal/config"
)

type AnomalyProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

// NewAnomalyProducer creates the Kafka producer for the anomaly topic.
// Returns nil producer if cfg.AnomalyTopic is empty (escalation disabled).
func NewAnomalyProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*AnomalyProducer, error) {
	if cfg.AnomalyTopic == "" {
		logger.Info("Anomaly topic is not configured. AnomalyProducer will not be initialized.")
		return nil, nil
	}

	conn, err := kafka.Dial("tcp", cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka for anomaly producer: %w", err)
	}
	defer conn.Close()

	err = createKafkaTopicIfNotExists(conn, cfg.AnomalyTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure anomaly topic %s exists: %w", cfg.AnomalyTopic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.AnomalyTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: cfg.WriteTimeout,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Failed to write anomaly messages synchronously", "topic", cfg.AnomalyTopic, "error", err, "count", len(messages))
			} else {
				logger.Debug("Successfully wrote anomaly messages synchronously", "topic", cfg.AnomalyTopic, "count", len(messages))
			}
		},
	}

	return &AnomalyProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.AnomalyTopic,
	}, nil
}

// PublishAnomaly writes one anomaly event keyed by transaction id, so all
// anomalies for the same transaction land on the same partition in order.
func (p *AnomalyProducer) PublishAnomaly(ctx context.Context, txnID, operation, reason, detail string) error {
	if p == nil || p.writer == nil {
		return fmt.Errorf("anomaly producer not initialized")
	}

	payload := struct {
		TxnID     string `json:"txn_id"`
		Operation string `json:"operation"`
		Reason    string `json:"reason"`
		Detail    string `json:"detail,omitempty"`
		Timestamp string `json:"timestamp"`
	}{
		TxnID:     txnID,
		Operation: operation,
		Reason:    reason,
		Detail:    detail,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal anomaly message value: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(txnID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "anomaly-reason", Value: []byte(reason)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish anomaly message",
			"topic", p.topic,
			"txn_id", txnID,
			"error", err,
		)
		return fmt.Errorf("failed to publish anomaly message to %s: %w", p.topic, err)
	}

	p.logger.Info("Published anomaly message",
		"topic", p.topic,
		"txn_id", txnID,
		"operation", operation,
		"reason", reason,
	)
	return nil
}

func (p *AnomalyProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	p.logger.Info("Closing anomaly Kafka message producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close anomaly kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}
