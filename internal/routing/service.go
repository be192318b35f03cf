package routing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"connector/internal/config"
	"connector/internal/constants"
	"connector/internal/logger"
	"connector/pkg/errors"
	"connector/pkg/logging"
	"connector/pkg/metrics"
	"connector/pkg/models"
	"connector/pkg/tracing"
)

// RuleSource supplies the enabled rules of a business domain in evaluation order.
type RuleSource interface {
	Rules(domain string) []Rule
}

// ConversationLookup finds earlier messages of a conversation in the
// business domain carried by ctx.
type ConversationLookup interface {
	FindByConversationID(ctx context.Context, conversationID string) ([]*models.Message, error)
}

// GatewaySource names the default partner for messages travelling to the
// gateway. It is asked on every decision, so partners activated after
// startup are seen.
type GatewaySource interface {
	GatewayPartner() string
}

// StaticGateway is a GatewaySource with a fixed partner name.
type StaticGateway string

func (g StaticGateway) GatewayPartner() string { return string(g) }

type Service struct {
	rules         RuleSource
	history       ConversationLookup
	cfg           config.RoutingConfig
	gateway       GatewaySource
	defaultDomain string
	logger        logger.Logger
}

// NewService builds the partner selector.
func NewService(rules RuleSource, history ConversationLookup, cfg config.RoutingConfig, gateway GatewaySource, defaultDomain string, log logger.Logger) *Service {
	if defaultDomain == "" {
		defaultDomain = constants.DefaultBusinessDomain
	}
	if gateway == nil {
		gateway = StaticGateway("")
	}
	return &Service{
		rules:         rules,
		history:       history,
		cfg:           cfg,
		gateway:       gateway,
		defaultDomain: defaultDomain,
		logger:        log,
	}
}

// SelectPartner resolves the partner on the target side of msg and stores it
// in msg.Details. The first applicable step wins:
//
//  1. a partner name already present on the target side
//  2. the partner of an earlier message of the same conversation
//  3. the highest priority matching rule, if backend routing is enabled
//  4. the configured default
//
// R101 is returned when nothing applies.
func (s *Service) SelectPartner(ctx context.Context, msg *models.Message) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "routing.select_partner")
	defer span.End()

	if !msg.Details.Direction.Valid() {
		return "", errors.ErrInvalidAddressing.WithMessage("message %s has no direction", msg.ID)
	}

	domain := s.businessDomain(ctx, msg)
	side := msg.Details.Direction.Target()

	partner, source, err := s.resolve(ctx, msg, domain, side)
	if err != nil {
		return "", err
	}

	msg.Details.SetPartnerName(side, partner)
	metrics.IncRoutingDecision(domain, source)
	span.SetAttributes(
		attribute.String("routing.partner", partner),
		attribute.String("routing.source", source),
	)
	s.logger.InfowCtx(ctx, "Routing decision",
		"message_id", msg.ID,
		"target", side,
		"partner", partner,
		"source", source,
	)
	return partner, nil
}

func (s *Service) resolve(ctx context.Context, msg *models.Message, domain string, side models.LinkType) (string, string, error) {
	if name := msg.Details.PartnerName(side); name != "" {
		return name, constants.DecisionSourceTargetName, nil
	}

	name, err := s.fromConversation(ctx, msg, side)
	if err != nil {
		return "", "", err
	}
	if name != "" {
		return name, constants.DecisionSourceConversation, nil
	}

	if side == models.LinkTypeBackend && s.cfg.BackendRoutingEnabled {
		if name := s.fromRules(ctx, msg, domain); name != "" {
			return name, constants.DecisionSourceRule, nil
		}
	}

	if name := s.defaultPartner(domain, side); name != "" {
		return name, constants.DecisionSourceDefault, nil
	}

	return "", "", errors.ErrNoRoutingTarget.WithMessage(
		"no %s partner could be resolved for message %s in domain %s", side, msg.ID, domain)
}

func (s *Service) fromConversation(ctx context.Context, msg *models.Message, side models.LinkType) (string, error) {
	if msg.Details.ConversationID == "" || s.history == nil {
		return "", nil
	}

	related, err := s.history.FindByConversationID(ctx, msg.Details.ConversationID)
	if err != nil {
		return "", errors.ErrServiceUnavailable.WithCause(err).AsRetryable()
	}

	for _, prior := range related {
		if prior.ID == msg.ID {
			continue
		}
		if name := prior.Details.PartnerName(side); name != "" {
			return name, nil
		}
	}
	return "", nil
}

// fromRules returns the link of the first matching rule. Rules arrive sorted
// by descending priority and ascending id.
func (s *Service) fromRules(ctx context.Context, msg *models.Message, domain string) string {
	for _, rule := range s.rules.Rules(domain) {
		matched, err := rule.Match(ctx, msg)
		if err != nil {
			metrics.IncRoutingRuleEvaluation(rule.ID, "error")
			s.logger.WarnwCtx(ctx, "Routing rule evaluation failed, skipping",
				"rule_id", rule.ID,
				"error", err,
			)
			continue
		}
		if !matched {
			metrics.IncRoutingRuleEvaluation(rule.ID, "no_match")
			continue
		}
		metrics.IncRoutingRuleEvaluation(rule.ID, "match")
		s.logger.DebugwCtx(ctx, "Routing rule matched",
			"rule_id", rule.ID,
			"priority", rule.Priority,
			"link_name", rule.LinkName,
		)
		return rule.LinkName
	}
	return ""
}

func (s *Service) defaultPartner(domain string, side models.LinkType) string {
	if side == models.LinkTypeGateway {
		return s.gateway.GatewayPartner()
	}
	if d, ok := s.cfg.Domains[domain]; ok && d.DefaultBackendName != "" {
		return d.DefaultBackendName
	}
	return s.cfg.DefaultBackendName
}

func (s *Service) businessDomain(ctx context.Context, msg *models.Message) string {
	if d := logging.GetBusinessDomain(ctx); d != "" {
		return d
	}
	if msg.BusinessDomain != "" {
		return msg.BusinessDomain
	}
	return s.defaultDomain
}
