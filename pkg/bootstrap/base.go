package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"connector/internal/broker"
	"connector/internal/config"
	"connector/internal/logger"
)

type Base struct {
	Config         *config.Config
	Logger         logger.Logger
	Producer       broker.Producer
	Consumer       broker.Consumer
	ConfigConsumer broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitBroker creates the shared producer, the queue consumer and a consumer
// for config events. The config consumer joins a group of its own so every
// instance sees every event.
func (b *Base) InitBroker(serviceName string) error {
	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	consumer, err := broker.NewConsumer(b.Config.Broker, b.Logger)
	if err != nil {
		producer.Close()
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	configBroker := b.Config.Broker
	configBroker.Kafka.GroupID = InstanceGroupID(b.Config.Broker.Kafka.GroupID)
	configConsumer, err := broker.NewConsumer(configBroker, b.Logger)
	if err != nil {
		producer.Close()
		consumer.Close()
		return fmt.Errorf("failed to create config consumer: %w", err)
	}

	if serviceName != "" {
		consumer.SetServiceName(serviceName)
		configConsumer.SetServiceName(serviceName)
	}

	b.Producer = producer
	b.Consumer = consumer
	b.ConfigConsumer = configConsumer
	return nil
}

// InstanceGroupID derives a consumer group unique to this process.
func InstanceGroupID(group string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "connector"
	}
	return fmt.Sprintf("%s-config-%s-%s", group, host, uuid.NewString()[:8])
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	for _, c := range []broker.Consumer{b.Consumer, b.ConfigConsumer} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownBroker()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
