package broker

import (
	"context"

	"github.com/segmentio/kafka-go"

	"connector/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, envelope *models.MessageEnvelope) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, envelope models.MessageEnvelope) error

// messageWriter is the subset of *kafka.Writer used for dead-lettering.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}
