package management

import (
	"context"

	"connector/internal/broker"
	"connector/internal/link"
	"connector/internal/messages"
	"connector/internal/routing"
	"connector/pkg/models"
)

type Service interface {
	ListRoutingRules(ctx context.Context) []routing.Rule
	CreateRoutingRule(ctx context.Context, req CreateRoutingRuleRequest) (*routing.Rule, error)
	DeleteRoutingRule(ctx context.Context, id string) error
	PersistRoutingRule(ctx context.Context, id string) (*routing.Rule, error)

	ListLinkPartners(ctx context.Context) []link.PartnerInfo
	ActivateLinkPartner(ctx context.Context, name string) (*link.PartnerInfo, error)
	ShutdownLinkPartner(ctx context.Context, name string) error

	GetMessage(ctx context.Context, id string) (*MessageView, error)
	ListMessages(ctx context.Context, filter messages.ListFilter) ([]*models.Message, error)

	ListDeadLetters(ctx context.Context, queue string, limit int) ([]broker.DLQEntry, error)
	ReplayDeadLetters(ctx context.Context, queue string, limit int) (int, error)
}

// RuleStore is the rule manager of this instance.
type RuleStore interface {
	List(domain string) []routing.Rule
	AddRule(ctx context.Context, rule routing.Rule) (routing.Rule, error)
	DeleteRule(ctx context.Context, domain, id string) error
	PersistRule(ctx context.Context, domain, id string) (routing.Rule, error)
}

type LinkActivator interface {
	Activate(ctx context.Context, partner string) (*link.ActiveLinkPartner, error)
}

type LinkRegistry interface {
	ActivePartners() []*link.ActiveLinkPartner
	ShutdownLinkPartner(ctx context.Context, name string) error
}

type TransportLog interface {
	LastAttempts(ctx context.Context, messageID string) ([]*models.TransportStep, error)
}

type DeadLetters interface {
	List(ctx context.Context, queue string, limit int) ([]broker.DLQEntry, error)
	Replay(ctx context.Context, queue string, limit int) (int, error)
}
