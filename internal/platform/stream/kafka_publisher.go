// Package stream publishes the ledger tail to downstream consumers (KDS
// displays, reporting, sync workers). Delivery here is best-effort: the
// ledger itself stays authoritative and append never waits on the broker
// beyond the writer's own timeout.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	kafka "github.com/segmentio/kafka-go"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
)

// KafkaEventPublisher publishes appended ledger events to a Kafka topic,
// keyed by aggregate id so one ticket's events land on one partition in
// order.
type KafkaEventPublisher struct {
	writer  *kafka.Writer
	marshal func(any) ([]byte, error)
}

// NewKafkaEventPublisher constructs a publisher over the given brokers and
// topic.
func NewKafkaEventPublisher(brokers []string, topic string) (*KafkaEventPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher: at least one broker is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("kafka publisher: topic is required")
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &KafkaEventPublisher{
		writer:  writer,
		marshal: json.Marshal,
	}, nil
}

// PublishEvent implements ledger.Publisher.
func (p *KafkaEventPublisher) PublishEvent(ctx context.Context, event domain.Event) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.Aggregate.ID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(event.Type)},
			{Key: "eventId", Value: []byte(event.ID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("publish ledger event seq %d: %w", event.Seq, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaEventPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
