// Package queue is the durable hand-off between the scheduler and the worker
// pool: Kafka topics with at-least-once delivery. FIFO across tasks is not
// required; the lease, not the queue, prevents two live copies of the same
// task from executing concurrently.
package queue

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaBrokers      = "localhost:9092"
	DefaultDispatchTopic     = "inspection_execution_requests"
	DefaultCompletionTopic   = "inspection_execution_completions"
	DefaultWorkerGroupID     = "inspection-worker-group"
	DefaultCompletionGroupID = "inspection-manager-completions-group"
)

// Enqueuer is the producer side of the work queue contract. A failed enqueue
// is surfaced to the caller, never swallowed.
type Enqueuer interface {
	Enqueue(ctx context.Context, key string, payload []byte) error
}

// KafkaEnqueuer writes messages to a single Kafka topic.
type KafkaEnqueuer struct {
	Writer *kafka.Writer
}

func brokers() []string {
	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		kafkaBrokers = DefaultKafkaBrokers
	}
	return strings.Split(kafkaBrokers, ",")
}

func newEnqueuer(topic string) *KafkaEnqueuer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers(),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: int(kafka.RequireOne),
		Async:        false,
	})
	log.Info().Str("topic", topic).Msg("kafka producer configured")
	return &KafkaEnqueuer{Writer: writer}
}

// NewDispatchProducer builds the producer for execution requests.
func NewDispatchProducer() *KafkaEnqueuer {
	topic := os.Getenv("DISPATCH_TOPIC")
	if topic == "" {
		topic = DefaultDispatchTopic
	}
	return newEnqueuer(topic)
}

// NewCompletionProducer builds the producer for completion events.
func NewCompletionProducer() *KafkaEnqueuer {
	topic := os.Getenv("COMPLETION_TOPIC")
	if topic == "" {
		topic = DefaultCompletionTopic
	}
	return newEnqueuer(topic)
}

// Enqueue writes one message, bounded by a 10s deadline on top of ctx.
func (e *KafkaEnqueuer) Enqueue(ctx context.Context, key string, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.Writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
}

func (e *KafkaEnqueuer) Close() error { return e.Writer.Close() }

func newReader(topic, groupID string) *kafka.Reader {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers(),
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
	})
	log.Info().Str("topic", topic).Str("group", groupID).Msg("kafka consumer configured")
	return reader
}

// NewDispatchReader builds the worker-pool consumer for execution requests.
// Workers share a consumer group, so each request is delivered to one worker.
func NewDispatchReader() *kafka.Reader {
	topic := os.Getenv("DISPATCH_TOPIC")
	if topic == "" {
		topic = DefaultDispatchTopic
	}
	groupID := os.Getenv("WORKER_GROUP_ID")
	if groupID == "" {
		groupID = DefaultWorkerGroupID
	}
	return newReader(topic, groupID)
}

// NewCompletionReader builds the manager-side consumer for completion events.
func NewCompletionReader() *kafka.Reader {
	topic := os.Getenv("COMPLETION_TOPIC")
	if topic == "" {
		topic = DefaultCompletionTopic
	}
	groupID := os.Getenv("COMPLETION_GROUP_ID")
	if groupID == "" {
		groupID = DefaultCompletionGroupID
	}
	return newReader(topic, groupID)
}
