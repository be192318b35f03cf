package broker

import (
	"strings"

	"connector/internal/config"
)

// Queues resolves the connector queue names and their dead-letter queues.
type Queues struct {
	ToConnector string
	ToLink      string
	Cleanup     string
	DLQPrefix   string
}

func NewQueues(cfg config.KafkaConfig) Queues {
	return Queues{
		ToConnector: cfg.Queues.ToConnector,
		ToLink:      cfg.Queues.ToLink,
		Cleanup:     cfg.Queues.Cleanup,
		DLQPrefix:   cfg.DLQPrefix,
	}
}

func (q Queues) All() []string {
	return []string{q.ToConnector, q.ToLink, q.Cleanup}
}

func (q Queues) DLQ(queue string) string {
	return q.DLQPrefix + queue
}

func (q Queues) IsDLQ(topic string) bool {
	return q.DLQPrefix != "" && strings.HasPrefix(topic, q.DLQPrefix)
}

// Source returns the queue a dead-letter queue belongs to.
func (q Queues) Source(dlq string) string {
	return strings.TrimPrefix(dlq, q.DLQPrefix)
}

// Known reports whether name is one of the connector queues.
func (q Queues) Known(name string) bool {
	for _, queue := range q.All() {
		if queue == name {
			return true
		}
	}
	return false
}
