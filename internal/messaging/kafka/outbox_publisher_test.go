package kafka

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

func testPublisherProducer(t *testing.T) (*mocks.SyncProducer, *Producer) {
	t.Helper()
	mockProducer := mocks.NewSyncProducer(t, nil)
	return mockProducer, &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}
}

func TestOutboxPublisher_PublishEnvelope(t *testing.T) {
	t.Parallel()

	mockProducer, producer := testPublisherProducer(t)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var envelope EventEnvelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return fmt.Errorf("unmarshal envelope: %w", err)
		}
		if envelope.ID != "outbox-1" || envelope.AggregateID != "order-123" {
			return fmt.Errorf("unexpected envelope identity: %+v", envelope)
		}
		if envelope.EventType != domain.EventOrderPlaced {
			return fmt.Errorf("unexpected event type %q", envelope.EventType)
		}
		if envelope.PublishedAt.IsZero() {
			return fmt.Errorf("published_at is zero")
		}
		return nil
	})

	publisher := NewOutboxPublisher(producer, TopicOrderEvents)
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     domain.EventOrderPlaced,
		Payload:       []byte(`{"order_id":"order-123"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer, producer := testPublisherProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(producer, TopicOrderEvents)
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: "order",
		AggregateID:   "order-234",
		EventType:     domain.EventOrderCanceled,
		Payload:       []byte(`{"order_id":"order-234"}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	if err := publisher.Publish(domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}

func TestEventEnvelope_PartitionKey(t *testing.T) {
	t.Parallel()

	withAggregate := EventEnvelope{ID: "outbox-4", AggregateID: "order-456"}
	if got := withAggregate.PartitionKey(); got != "order-456" {
		t.Fatalf("expected aggregate id as key, got %q", got)
	}

	withoutAggregate := EventEnvelope{ID: "outbox-5"}
	if got := withoutAggregate.PartitionKey(); got != "outbox-5" {
		t.Fatalf("expected record id as key, got %q", got)
	}
}
