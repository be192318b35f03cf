//go:build integration

package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connector/internal/config"
	"connector/internal/logger"
	"connector/internal/testinfra"
	"connector/pkg/errors"
	"connector/pkg/models"
)

func kafkaConfig(brokers []string) config.KafkaConfig {
	return config.KafkaConfig{
		Brokers: brokers,
		GroupID: "connector-it",
		Queues: config.QueueConfig{
			ToConnector: "it.to_connector",
			ToLink:      "it.to_link",
			Cleanup:     "it.cleanup",
		},
		DLQPrefix: "dlq.",
		Retry:     config.RetryConfig{MaxAttempts: 1, InitialInterval: 10 * time.Millisecond},
	}
}

func publishEventually(t *testing.T, p Producer, topic string, env *models.MessageEnvelope) {
	t.Helper()
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.Publish(ctx, topic, env) == nil
	}, 30*time.Second, 500*time.Millisecond, "topic %s never accepted writes", topic)
}

func TestKafkaRoundTripAndDeadLetter(t *testing.T) {
	cfg := kafkaConfig(testinfra.Kafka(t))
	log := logger.NopLogger()

	producer := NewKafkaProducer(cfg, log)
	t.Cleanup(func() { producer.Close() })

	good := models.NewCleanupEnvelope("m-good", "DEFAULT")
	bad := models.NewCleanupEnvelope("m-bad", "DEFAULT")
	publishEventually(t, producer, cfg.Queues.Cleanup, good)
	publishEventually(t, producer, cfg.Queues.Cleanup, bad)

	consumer := NewKafkaConsumer(cfg, log)
	t.Cleanup(func() { consumer.Close() })

	var mu sync.Mutex
	handled := make(map[string]string)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go consumer.Consume(ctx, cfg.Queues.Cleanup, func(ctx context.Context, env models.MessageEnvelope) error {
		mu.Lock()
		handled[env.MessageID] = env.Metadata.BusinessDomain
		mu.Unlock()
		if env.MessageID == "m-bad" {
			return errors.ErrValidation.WithMessage("cannot clean up %s", env.MessageID)
		}
		return nil
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 2
	}, 60*time.Second, 200*time.Millisecond)
	assert.Equal(t, "DEFAULT", handled["m-good"])

	dlq := NewDLQManager(cfg, producer, log)
	var entries []DLQEntry
	require.Eventually(t, func() bool {
		found, err := dlq.List(context.Background(), cfg.Queues.Cleanup, 10)
		if err != nil {
			return false
		}
		entries = found
		return len(entries) == 1
	}, 30*time.Second, time.Second)

	entry := entries[0]
	assert.Equal(t, cfg.Queues.Cleanup, entry.SourceQueue)
	assert.Equal(t, models.FailureTypePermanent, entry.FailureType)
	require.NotNil(t, entry.Envelope)
	assert.Equal(t, "m-bad", entry.Envelope.MessageID)

	_, err := dlq.List(context.Background(), "unknown", 10)
	assert.True(t, errors.IsNotFound(err))
}
