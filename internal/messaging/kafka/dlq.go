package kafka

import (
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
)

// ConsumerDLQRecord — запись, которую consumer кладёт в DLQ после
// исчерпания лимита доставок. Хранит исходное сообщение целиком, чтобы
// его можно было переиграть без доступа к оригинальному топику.
type ConsumerDLQRecord struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// NewConsumerDLQRecord собирает DLQ-запись из необработанного сообщения.
func NewConsumerDLQRecord(message *sarama.ConsumerMessage, processingErr error, retryCount int) ConsumerDLQRecord {
	return ConsumerDLQRecord{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      processingErr.Error(),
		FailedAt:          time.Now().UTC().Format(time.RFC3339),
		RetryCount:        retryCount,
	}
}

// OutboxDLQRecord — конверт, под которым outbox-воркер публикует в DLQ
// записи, не доставленные в основной топик.
type OutboxDLQRecord struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt string          `json:"dlq_published_at"`
}
