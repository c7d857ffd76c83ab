package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaBackend writes events to a topic keyed by bucket, so the events of
// one bucket stay ordered within a partition.
type KafkaBackend struct {
	writer *kafka.Writer
}

func NewKafkaBackend(brokers []string, topic, compression string) *KafkaBackend {
	return &KafkaBackend{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Compression:            kafkaCodec(compression),
		AllowAutoTopicCreation: true,
	}}
}

func kafkaCodec(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	}
	return 0
}

func (k *KafkaBackend) Name() string {
	return "kafka:" + k.writer.Topic
}

func (k *KafkaBackend) Publish(ctx context.Context, payload []byte) error {
	if err := k.writer.WriteMessages(ctx, kafkaMessage(payload)); err != nil {
		return fmt.Errorf("kafka write %s: %w", k.writer.Topic, err)
	}
	return nil
}

func kafkaMessage(payload []byte) kafka.Message {
	event, bucket := peek(payload)
	return kafka.Message{
		Key:   []byte(bucket),
		Value: payload,
		Headers: []kafka.Header{
			{Key: headerEvent, Value: []byte(event)},
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
}

func (k *KafkaBackend) Close() error {
	return k.writer.Close()
}
