package producers

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// AnomalyPublisher escalates reconciliation anomalies to the operations
// topic. An anomaly is a state the engine cannot repair on its own, such as
// a provider-side success whose local commit failed.
type AnomalyPublisher interface {
	PublishAnomaly(ctx context.Context, txnID, operation, reason, detail string) error
	Close() error
}

// KafkaWriter wraps kafka.Writer methods for testing
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
