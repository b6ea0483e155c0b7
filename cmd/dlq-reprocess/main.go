// Команда dlq-reprocess перечитывает Dead Letter Queue и переигрывает
// исходные события обратно в рабочий топик. По умолчанию работает в
// режиме dry-run: только показывает кандидатов на переигровку.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bookstore/internal/messaging/kafka"
)

const (
	defaultScanLimit   = 100
	defaultIdleTimeout = 2 * time.Second
)

type settings struct {
	brokers    []string
	dlqTopic   string
	orderTopic string
	limit      int
	execute    bool
	idle       time.Duration
}

func parseSettings(args []string) (settings, error) {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	brokersRaw := fs.String("brokers", "", "Kafka brokers as comma-separated list (fallback: BOOKSTORE_KAFKA_BROKERS)")
	dlqTopic := fs.String("dlq-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	orderTopic := fs.String("order-topic", kafka.TopicOrderEvents, "topic replayed events are published to")
	limit := fs.Int("limit", defaultScanLimit, "max number of DLQ messages to scan")
	execute := fs.Bool("execute", false, "publish replayed events; default is dry-run")
	idle := fs.Duration("idle-timeout", defaultIdleTimeout, "stop scanning a partition after this much silence")
	if err := fs.Parse(args); err != nil {
		return settings{}, err
	}

	raw := strings.TrimSpace(*brokersRaw)
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv("BOOKSTORE_KAFKA_BROKERS"))
	}
	cfg := settings{
		dlqTopic:   strings.TrimSpace(*dlqTopic),
		orderTopic: strings.TrimSpace(*orderTopic),
		limit:      *limit,
		execute:    *execute,
		idle:       *idle,
	}
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}

	switch {
	case len(cfg.brokers) == 0:
		return settings{}, fmt.Errorf("kafka brokers are required (-brokers or BOOKSTORE_KAFKA_BROKERS)")
	case cfg.dlqTopic == "":
		return settings{}, fmt.Errorf("dlq-topic is required")
	case cfg.orderTopic == "":
		return settings{}, fmt.Errorf("order-topic is required")
	case cfg.limit <= 0:
		return settings{}, fmt.Errorf("limit must be > 0")
	case cfg.idle <= 0:
		return settings{}, fmt.Errorf("idle-timeout must be > 0")
	}
	return cfg, nil
}

// candidate — одно событие, готовое к публикации в целевой топик.
type candidate struct {
	topic string
	key   string
	value []byte
}

// brokerClient и соседние интерфейсы сужают sarama до того, что нужно
// переигровщику; тесты подставляют сюда стабы.
type brokerClient interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	Close() error
}

type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type readerSource interface {
	Read(topic string, partition int32, offset int64) (partitionReader, error)
	Close() error
}

type eventSender interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaReaderSource struct {
	consumer sarama.Consumer
}

func (s saramaReaderSource) Read(topic string, partition int32, offset int64) (partitionReader, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

func (s saramaReaderSource) Close() error {
	if s.consumer == nil {
		return nil
	}
	return s.consumer.Close()
}

// connect собирает kafka-зависимости; в dry-run продюсер не создаётся.
var connect = func(cfg settings) (brokerClient, readerSource, eventSender, error) {
	clientConfig := sarama.NewConfig()
	clientConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, clientConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	source := saramaReaderSource{consumer: consumer}

	if !cfg.execute {
		return client, source, nil, nil
	}

	producer, err := sarama.NewSyncProducer(cfg.brokers, kafka.NewSyncProducerConfig())
	if err != nil {
		_ = source.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return client, source, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := parseSettings(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	client, source, sender, err := connect(cfg)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() {
		if sender != nil {
			_ = sender.Close()
		}
		_ = source.Close()
		_ = client.Close()
	}()

	r := &replayer{
		cfg:    cfg,
		client: client,
		source: source,
		sender: sender,
		logger: log.WithField("component", "dlq-reprocess"),
	}
	if err := r.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "dlq replay failed: %v\n", err)
		os.Exit(1)
	}
}

type replayTotals struct {
	scanned  int
	replayed int
	skipped  int
}

func (t *replayTotals) add(other replayTotals) {
	t.scanned += other.scanned
	t.replayed += other.replayed
	t.skipped += other.skipped
}

type replayer struct {
	cfg    settings
	client brokerClient
	source readerSource
	sender eventSender
	logger *log.Entry
}

func (r *replayer) Run(ctx context.Context) error {
	if r.cfg.execute && r.sender == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	mode := "dry-run"
	if r.cfg.execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"dlq_topic":   r.cfg.dlqTopic,
		"order_topic": r.cfg.orderTopic,
		"limit":       r.cfg.limit,
		"mode":        mode,
	}).Info("starting dlq replay")

	partitions, err := r.client.Partitions(r.cfg.dlqTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", r.cfg.dlqTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var totals replayTotals
	for _, partition := range partitions {
		budget := r.cfg.limit - totals.scanned
		if budget <= 0 {
			break
		}
		partTotals, err := r.scanPartition(ctx, partition, budget)
		totals.add(partTotals)
		if err != nil {
			return err
		}
	}

	r.logger.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  totals.scanned,
		"replayed": totals.replayed,
		"skipped":  totals.skipped,
	}).Info("dlq replay finished")
	return nil
}

// scanPartition читает партицию от старейшего offset до зафиксированной
// на старте верхней границы, не дольше idle-таймаута на сообщение.
func (r *replayer) scanPartition(ctx context.Context, partition int32, budget int) (replayTotals, error) {
	var totals replayTotals

	oldest, err := r.client.GetOffset(r.cfg.dlqTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return totals, fmt.Errorf("oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(r.cfg.dlqTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return totals, fmt.Errorf("newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return totals, nil
	}

	reader, err := r.source.Read(r.cfg.dlqTopic, partition, oldest)
	if err != nil {
		return totals, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = reader.Close() }()

	idle := time.NewTimer(r.cfg.idle)
	defer idle.Stop()

	for totals.scanned < budget {
		select {
		case <-ctx.Done():
			return totals, ctx.Err()
		case err := <-reader.Errors():
			if err != nil {
				return totals, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-reader.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return totals, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.cfg.idle)

			totals.scanned++
			if err := r.replayOne(msg, &totals); err != nil {
				return totals, err
			}
			if msg.Offset+1 >= newest {
				return totals, nil
			}
		case <-idle.C:
			return totals, nil
		}
	}
	return totals, nil
}

func (r *replayer) replayOne(msg *sarama.ConsumerMessage, totals *replayTotals) error {
	cand, ok, err := extractCandidate(msg, r.cfg.orderTopic)
	if err != nil {
		totals.skipped++
		r.logger.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("skip unsupported dlq message")
		return nil
	}
	if !ok {
		totals.skipped++
		return nil
	}

	if !r.cfg.execute {
		r.logger.WithFields(log.Fields{
			"partition":   msg.Partition,
			"offset":      msg.Offset,
			"order_topic": cand.topic,
			"key":         cand.key,
		}).Info("dlq replay candidate")
		totals.replayed++
		return nil
	}

	_, _, err = r.sender.SendMessage(&sarama.ProducerMessage{
		Topic:     cand.topic,
		Key:       sarama.StringEncoder(cand.key),
		Value:     sarama.ByteEncoder(cand.value),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	totals.replayed++
	return nil
}

// extractCandidate восстанавливает исходное событие из DLQ-записи.
// Поддерживаются оба формата: запись consumer-а с оригинальным
// сообщением и конверт outbox-воркера с вложенным payload.
func extractCandidate(msg *sarama.ConsumerMessage, orderTopic string) (candidate, bool, error) {
	var record kafka.ConsumerDLQRecord
	if err := json.Unmarshal(msg.Value, &record); err == nil && record.OriginalValue != "" {
		topic := strings.TrimSpace(record.OriginalTopic)
		if topic == "" {
			topic = orderTopic
		}
		return candidate{
			topic: topic,
			key:   record.OriginalKey,
			value: []byte(record.OriginalValue),
		}, true, nil
	}

	var envelope kafka.EventEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return candidate{}, false, nil
	}

	var dlqRecord kafka.OutboxDLQRecord
	if err := json.Unmarshal(envelope.Payload, &dlqRecord); err != nil {
		return candidate{}, false, fmt.Errorf("decode outbox dlq record: %w", err)
	}
	if len(dlqRecord.Payload) == 0 {
		return candidate{}, false, fmt.Errorf("outbox dlq record does not contain original event payload")
	}

	replay := kafka.EventEnvelope{
		ID:            firstNonEmpty(dlqRecord.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dlqRecord.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dlqRecord.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(dlqRecord.EventType, envelope.EventType),
		Payload:       dlqRecord.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return candidate{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	return candidate{
		topic: orderTopic,
		key:   replay.PartitionKey(),
		value: encoded,
	}, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
