package routing

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"connector/internal/config"
	"connector/internal/constants"
	"connector/internal/logger"
	"connector/pkg/cel"
	"connector/pkg/errors"
	"connector/pkg/metrics"
)

type ruleSet map[string]map[string]Rule

func (s ruleSet) put(rule Rule) {
	if s[rule.BusinessDomain] == nil {
		s[rule.BusinessDomain] = make(map[string]Rule)
	}
	s[rule.BusinessDomain][rule.ID] = rule
}

func (s ruleSet) get(domain, id string) (Rule, bool) {
	rule, ok := s[domain][id]
	return rule, ok
}

func (s ruleSet) remove(domain, id string) bool {
	if _, ok := s[domain][id]; !ok {
		return false
	}
	delete(s[domain], id)
	return true
}

// RuleManager holds the routing rules of every business domain. Rules come
// from static configuration, from AddRule and from the database; for the same
// domain and id the database wins over dynamic, dynamic over static.
type RuleManager struct {
	repo          Repository
	evaluator     *cel.Evaluator
	cfg           config.RoutingConfig
	defaultDomain string
	logger        logger.Logger

	mu      sync.RWMutex
	static  ruleSet
	dynamic ruleSet
	stored  ruleSet
}

// NewRuleManager compiles the configured rules. repo may be nil, in which case
// rules cannot be persisted and Reload is a no-op.
func NewRuleManager(repo Repository, cfg config.RoutingConfig, defaultDomain string, log logger.Logger) (*RuleManager, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	if defaultDomain == "" {
		defaultDomain = constants.DefaultBusinessDomain
	}

	m := &RuleManager{
		repo:          repo,
		evaluator:     evaluator,
		cfg:           cfg,
		defaultDomain: defaultDomain,
		logger:        log,
		static:        make(ruleSet),
		dynamic:       make(ruleSet),
		stored:        make(ruleSet),
	}

	if err := m.loadStatic(defaultDomain, cfg.Rules); err != nil {
		return nil, err
	}
	for domain, domainCfg := range cfg.Domains {
		if err := m.loadStatic(domain, domainCfg.Rules); err != nil {
			return nil, err
		}
	}
	m.publishCounts()
	return m, nil
}

func (m *RuleManager) loadStatic(domain string, rules map[string]config.RoutingRuleConfig) error {
	for id, rc := range rules {
		rule := Rule{
			ID:             id,
			BusinessDomain: domain,
			MatchClause:    rc.MatchClause,
			LinkName:       rc.LinkName,
			Priority:       rc.Priority,
			Description:    rc.Description,
			Enabled:        true,
			Source:         constants.RuleSourceConfig,
		}
		if err := compile(m.evaluator, &rule); err != nil {
			return fmt.Errorf("invalid routing rule %s in domain %s: %w", id, domain, err)
		}
		m.static.put(rule)
	}
	return nil
}

func (m *RuleManager) domain(domain string) string {
	if domain == "" {
		return m.defaultDomain
	}
	return domain
}

// Rules returns the enabled rules of domain ordered by descending priority,
// ties ordered by ascending id.
func (m *RuleManager) Rules(domain string) []Rule {
	all := m.List(domain)
	enabled := all[:0]
	for _, rule := range all {
		if rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	return enabled
}

// List returns every rule of domain, disabled ones included.
func (m *RuleManager) List(domain string) []Rule {
	domain = m.domain(domain)

	m.mu.RLock()
	merged := make(map[string]Rule)
	for _, set := range []ruleSet{m.static, m.dynamic, m.stored} {
		for id, rule := range set[domain] {
			merged[id] = rule
		}
	}
	m.mu.RUnlock()

	rules := make([]Rule, 0, len(merged))
	for _, rule := range merged {
		rules = append(rules, rule)
	}
	sortRules(rules)
	return rules
}

func sortRules(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// AddRule compiles rule and makes it effective on this instance until it is
// deleted or persisted.
func (m *RuleManager) AddRule(ctx context.Context, rule Rule) (Rule, error) {
	if rule.ID == "" {
		return Rule{}, errors.ErrValidation.WithMessage("rule id is required")
	}
	if rule.LinkName == "" {
		return Rule{}, errors.ErrValidation.WithMessage("rule %s: link_name is required", rule.ID)
	}
	rule.BusinessDomain = m.domain(rule.BusinessDomain)
	rule.Source = constants.RuleSourceDynamic
	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	if err := compile(m.evaluator, &rule); err != nil {
		return Rule{}, err
	}

	m.mu.Lock()
	m.dynamic.put(rule)
	m.mu.Unlock()

	m.publishCounts()
	m.logger.InfowCtx(ctx, "Routing rule added",
		"rule_id", rule.ID,
		"business_domain", rule.BusinessDomain,
		"link_name", rule.LinkName,
		"priority", rule.Priority,
		"dialect", rule.Dialect,
	)
	return rule, nil
}

// DeleteRule removes a dynamic or stored rule. Rules from static
// configuration cannot be deleted.
func (m *RuleManager) DeleteRule(ctx context.Context, domain, id string) error {
	domain = m.domain(domain)

	m.mu.Lock()
	removedDynamic := m.dynamic.remove(domain, id)
	_, isStored := m.stored.get(domain, id)
	_, isStatic := m.static.get(domain, id)
	m.mu.Unlock()

	removedStored := false
	if isStored && m.repo != nil {
		deleted, err := m.repo.DeleteRule(ctx, domain, id)
		if err != nil {
			return errors.ErrServiceUnavailable.WithCause(err)
		}
		m.mu.Lock()
		m.stored.remove(domain, id)
		m.mu.Unlock()
		removedStored = deleted
	}

	if !removedDynamic && !isStored {
		if isStatic {
			return errors.ErrConflict.WithMessage("rule %s is defined in static configuration", id)
		}
		return errors.ErrNotFound.WithMessage("rule %s not found in domain %s", id, domain)
	}

	m.publishCounts()
	m.logger.InfowCtx(ctx, "Routing rule deleted",
		"rule_id", id,
		"business_domain", domain,
		"from_database", removedStored,
	)
	return nil
}

// PersistRule writes a dynamic rule to the database so it survives restarts
// and is picked up by every instance on reload.
func (m *RuleManager) PersistRule(ctx context.Context, domain, id string) (Rule, error) {
	if m.repo == nil {
		return Rule{}, errors.ErrServiceUnavailable.WithMessage("rule persistence is not configured")
	}
	domain = m.domain(domain)

	m.mu.RLock()
	rule, ok := m.dynamic.get(domain, id)
	m.mu.RUnlock()
	if !ok {
		return Rule{}, errors.ErrNotFound.WithMessage("dynamic rule %s not found in domain %s", id, domain)
	}

	if err := m.repo.SaveRule(ctx, rule); err != nil {
		return Rule{}, errors.ErrServiceUnavailable.WithCause(err)
	}

	rule.Source = constants.RuleSourceDatabase
	m.mu.Lock()
	m.dynamic.remove(domain, id)
	m.stored.put(rule)
	m.mu.Unlock()

	m.logger.InfowCtx(ctx, "Routing rule persisted", "rule_id", id, "business_domain", domain)
	return rule, nil
}

// ReloadRules replaces the database rules, waiting a random jitter first so
// instances reacting to the same event do not hit the database together.
func (m *RuleManager) ReloadRules(ctx context.Context) error {
	return m.Reload(ctx, false)
}

func (m *RuleManager) Reload(ctx context.Context, skipJitter bool) error {
	if m.repo == nil {
		return nil
	}
	if err := m.applyJitter(ctx, skipJitter); err != nil {
		return err
	}

	rules, err := m.repo.ListRules(ctx)
	if err != nil {
		return err
	}

	stored := make(ruleSet)
	for _, rule := range rules {
		rule.Source = constants.RuleSourceDatabase
		if err := compile(m.evaluator, &rule); err != nil {
			m.logger.ErrorwCtx(ctx, "Skipping invalid stored routing rule",
				"rule_id", rule.ID,
				"business_domain", rule.BusinessDomain,
				"error", err,
			)
			continue
		}
		stored.put(rule)
	}

	m.mu.Lock()
	m.stored = stored
	m.mu.Unlock()

	m.publishCounts()
	m.logger.InfowCtx(ctx, "Successfully reloaded routing rules", "rules_count", len(rules))
	return nil
}

func (m *RuleManager) applyJitter(ctx context.Context, skipJitter bool) error {
	if skipJitter || m.cfg.Reload.JitterMaxMilliseconds <= 0 {
		return nil
	}

	jitter := time.Duration(rand.Intn(m.cfg.Reload.JitterMaxMilliseconds)) * time.Millisecond
	m.logger.DebugwCtx(ctx, "Reload scheduled with jitter", "jitter_ms", jitter.Milliseconds())

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartReloader loads the database rules and reloads them every
// reload.interval_seconds until ctx is done.
func (m *RuleManager) StartReloader(ctx context.Context) error {
	if err := m.Reload(ctx, true); err != nil {
		m.logger.ErrorwCtx(ctx, "Failed to reload routing rules", "error", err)
	}

	if m.cfg.Reload.IntervalSeconds <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(time.Duration(m.cfg.Reload.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Reload(ctx, false); err != nil {
				m.logger.ErrorwCtx(ctx, "Failed to reload routing rules", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *RuleManager) Domains() []string {
	m.mu.RLock()
	seen := make(map[string]struct{})
	for _, set := range []ruleSet{m.static, m.dynamic, m.stored} {
		for domain := range set {
			seen[domain] = struct{}{}
		}
	}
	m.mu.RUnlock()

	domains := make([]string, 0, len(seen))
	for d := range seen {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

func (m *RuleManager) publishCounts() {
	for _, domain := range m.Domains() {
		metrics.SetRoutingActiveRules(domain, len(m.Rules(domain)))
	}
}
