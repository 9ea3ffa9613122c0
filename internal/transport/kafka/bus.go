package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

const publishTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Bus publishes events to Kafka, one Kafka topic per bus topic.
type Bus struct {
	writer messageWriter
	now    func() time.Time
}

func NewBus(brokers []string) *Bus {
	return newBus(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.CRC32Balancer{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	})
}

func newBus(w messageWriter) *Bus {
	return &Bus{writer: w, now: time.Now}
}

func (b *Bus) Publish(topic string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Value: data,
		Time:  b.now(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	})
}

func (b *Bus) Close() error {
	return b.writer.Close()
}
