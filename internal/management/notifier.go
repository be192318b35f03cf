package management

import (
	"context"
	"time"

	"connector/internal/broker"
	"connector/pkg/models"
)

// ConfigEventProducer tells the other connector instances about management
// changes so they reload the affected configuration.
type ConfigEventProducer struct {
	producer broker.Producer
	topic    string
}

func NewConfigEventProducer(producer broker.Producer, topic string) *ConfigEventProducer {
	return &ConfigEventProducer{
		producer: producer,
		topic:    topic,
	}
}

func (p *ConfigEventProducer) PublishRoutingRuleEvent(ctx context.Context, action, domain, ruleID, changedBy string) error {
	return p.publishEvent(ctx, models.ConfigUpdateEvent{
		EventType:      models.EventTypeRoutingRuleUpdated,
		ServiceType:    models.ServiceTypeRouting,
		RuleID:         ruleID,
		BusinessDomain: domain,
		Action:         action,
		Timestamp:      time.Now(),
		ChangedBy:      changedBy,
	})
}

func (p *ConfigEventProducer) PublishLinkEvent(ctx context.Context, action, partner, changedBy string) error {
	return p.publishEvent(ctx, models.ConfigUpdateEvent{
		EventType:   models.EventTypeLinkConfigUpdated,
		ServiceType: models.ServiceTypeLink,
		PartnerName: partner,
		Action:      action,
		Timestamp:   time.Now(),
		ChangedBy:   changedBy,
	})
}

func (p *ConfigEventProducer) publishEvent(ctx context.Context, event models.ConfigUpdateEvent) error {
	if p == nil || p.producer == nil || p.topic == "" {
		return nil
	}
	return p.producer.Publish(ctx, p.topic, models.NewConfigEventEnvelope(event))
}
