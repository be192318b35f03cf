package management

import (
	"context"

	"connector/internal/broker"
	"connector/internal/constants"
	"connector/internal/link"
	"connector/internal/logger"
	"connector/internal/messages"
	"connector/internal/routing"
	"connector/pkg/errors"
	"connector/pkg/logging"
	"connector/pkg/models"
)

// Auditor records management changes. Failures are logged, never returned.
type Auditor interface {
	LogChange(ctx context.Context, entry AuditLogEntry) error
}

type service struct {
	rules      RuleStore
	activator  LinkActivator
	registry   LinkRegistry
	messages   messages.Repository
	transports TransportLog
	dlq        DeadLetters

	events  *ConfigEventProducer
	auditor Auditor
	logger  logger.Logger
}

type ServiceOption func(*service)

func WithConfigEvents(events *ConfigEventProducer) ServiceOption {
	return func(s *service) {
		s.events = events
	}
}

func WithAudit(auditor Auditor) ServiceOption {
	return func(s *service) {
		s.auditor = auditor
	}
}

func WithDeadLetters(dlq DeadLetters) ServiceOption {
	return func(s *service) {
		s.dlq = dlq
	}
}

func NewService(rules RuleStore, activator LinkActivator, registry LinkRegistry, msgs messages.Repository, transports TransportLog, log logger.Logger, opts ...ServiceOption) Service {
	s := &service{
		rules:      rules,
		activator:  activator,
		registry:   registry,
		messages:   msgs,
		transports: transports,
		logger:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) ListRoutingRules(ctx context.Context) []routing.Rule {
	return s.rules.List(logging.GetBusinessDomain(ctx))
}

// CreateRoutingRule makes a rule effective on this instance only. Other
// instances see it once it is persisted.
func (s *service) CreateRoutingRule(ctx context.Context, req CreateRoutingRuleRequest) (*routing.Rule, error) {
	if err := ValidateRoutingRule(req); err != nil {
		return nil, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule, err := s.rules.AddRule(ctx, routing.Rule{
		ID:             req.ID,
		BusinessDomain: logging.GetBusinessDomain(ctx),
		MatchClause:    matchClause(req),
		LinkName:       req.LinkName,
		Priority:       req.Priority,
		Description:    req.Description,
		Enabled:        enabled,
		Dialect:        req.Dialect,
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, AuditLogEntry{
		Subject:     rule.ID,
		SubjectType: AuditSubjectRoutingRule,
		Domain:      rule.BusinessDomain,
		Action:      models.ActionCreate,
		NewValue:    rule,
	})
	return &rule, nil
}

func (s *service) DeleteRoutingRule(ctx context.Context, id string) error {
	domain := logging.GetBusinessDomain(ctx)
	if err := s.rules.DeleteRule(ctx, domain, id); err != nil {
		return err
	}

	s.audit(ctx, AuditLogEntry{
		Subject:     id,
		SubjectType: AuditSubjectRoutingRule,
		Domain:      domain,
		Action:      models.ActionDelete,
	})
	s.publishRuleEvent(ctx, models.ActionDelete, domain, id)
	return nil
}

func (s *service) PersistRoutingRule(ctx context.Context, id string) (*routing.Rule, error) {
	domain := logging.GetBusinessDomain(ctx)
	rule, err := s.rules.PersistRule(ctx, domain, id)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, AuditLogEntry{
		Subject:     id,
		SubjectType: AuditSubjectRoutingRule,
		Domain:      domain,
		Action:      models.ActionPersist,
		NewValue:    rule,
	})
	s.publishRuleEvent(ctx, models.ActionPersist, domain, id)
	return &rule, nil
}

func (s *service) ListLinkPartners(ctx context.Context) []link.PartnerInfo {
	active := s.registry.ActivePartners()
	out := make([]link.PartnerInfo, 0, len(active))
	for _, p := range active {
		out = append(out, p.Info())
	}
	return out
}

func (s *service) ActivateLinkPartner(ctx context.Context, name string) (*link.PartnerInfo, error) {
	active, err := s.activator.Activate(ctx, name)
	if err != nil {
		return nil, err
	}
	info := active.Info()

	s.audit(ctx, AuditLogEntry{
		Subject:     name,
		SubjectType: AuditSubjectLinkPartner,
		Action:      models.ActionActivate,
		NewValue:    info,
	})
	s.publishLinkEvent(ctx, models.ActionActivate, name)
	return &info, nil
}

func (s *service) ShutdownLinkPartner(ctx context.Context, name string) error {
	if err := s.registry.ShutdownLinkPartner(ctx, name); err != nil {
		return err
	}

	s.audit(ctx, AuditLogEntry{
		Subject:     name,
		SubjectType: AuditSubjectLinkPartner,
		Action:      models.ActionShutdown,
	})
	s.publishLinkEvent(ctx, models.ActionShutdown, name)
	return nil
}

func (s *service) GetMessage(ctx context.Context, id string) (*MessageView, error) {
	msg, err := s.messages.FindByReference(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := s.transports.LastAttempts(ctx, msg.ID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	return &MessageView{Message: msg, State: msg.State(), Transports: steps}, nil
}

func (s *service) ListMessages(ctx context.Context, filter messages.ListFilter) ([]*models.Message, error) {
	if filter.Direction != "" && !filter.Direction.Valid() {
		return nil, errors.ErrValidation.WithMessage("unknown direction %s", filter.Direction)
	}
	if filter.Limit <= 0 || filter.Limit > constants.MaxLimit {
		filter.Limit = constants.DefaultLimit
	}
	return s.messages.List(ctx, filter)
}

func (s *service) ListDeadLetters(ctx context.Context, queue string, limit int) ([]broker.DLQEntry, error) {
	if s.dlq == nil {
		return nil, errors.ErrServiceUnavailable.WithMessage("dead-letter access is not configured")
	}
	return s.dlq.List(ctx, queue, limit)
}

func (s *service) ReplayDeadLetters(ctx context.Context, queue string, limit int) (int, error) {
	if s.dlq == nil {
		return 0, errors.ErrServiceUnavailable.WithMessage("dead-letter access is not configured")
	}
	n, err := s.dlq.Replay(ctx, queue, limit)
	if err != nil {
		return n, err
	}

	s.audit(ctx, AuditLogEntry{
		Subject:     queue,
		SubjectType: AuditSubjectQueue,
		Action:      models.ActionReplay,
		NewValue:    map[string]int{"replayed": n},
	})
	return n, nil
}

func (s *service) audit(ctx context.Context, entry AuditLogEntry) {
	if s.auditor == nil {
		return
	}
	entry.ChangedBy = getChangedBy(ctx)
	if err := s.auditor.LogChange(ctx, entry); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to write audit log", "error", err, "subject", entry.Subject, "action", entry.Action)
	}
}

func (s *service) publishRuleEvent(ctx context.Context, action, domain, ruleID string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishRoutingRuleEvent(ctx, action, domain, ruleID, getChangedBy(ctx)); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish routing rule event", "error", err, "rule_id", ruleID, "action", action)
	}
}

func (s *service) publishLinkEvent(ctx context.Context, action, partner string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishLinkEvent(ctx, action, partner, getChangedBy(ctx)); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish link event", "error", err, "partner", partner, "action", action)
	}
}

type changedByKey struct{}

// WithChangedBy names the operator behind the management calls made with ctx.
func WithChangedBy(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, changedByKey{}, user)
}

func getChangedBy(ctx context.Context) string {
	if user, ok := ctx.Value(changedByKey{}).(string); ok && user != "" {
		return user
	}
	return "system"
}
