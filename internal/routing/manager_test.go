package routing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connector/internal/config"
	"connector/internal/constants"
	"connector/internal/logger"
	"connector/pkg/errors"
	"connector/pkg/models"
)

type memoryRuleRepo struct {
	mu    sync.Mutex
	rules map[string]Rule
}

func newMemoryRuleRepo(rules ...Rule) *memoryRuleRepo {
	r := &memoryRuleRepo{rules: make(map[string]Rule)}
	for _, rule := range rules {
		r.rules[rule.BusinessDomain+"/"+rule.ID] = rule
	}
	return r
}

func (r *memoryRuleRepo) ListRules(context.Context) ([]Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	return out, nil
}

func (r *memoryRuleRepo) SaveRule(_ context.Context, rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.BusinessDomain+"/"+rule.ID] = rule
	return nil
}

func (r *memoryRuleRepo) DeleteRule(_ context.Context, domain, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rules[domain+"/"+id]
	delete(r.rules, domain+"/"+id)
	return ok, nil
}

func TestNewRuleManagerRejectsInvalidClause(t *testing.T) {
	_, err := NewRuleManager(nil, config.RoutingConfig{
		Rules: map[string]config.RoutingRuleConfig{"bad": {MatchClause: "&(", LinkName: "x"}},
	}, "DEFAULT", logger.NopLogger())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeExpressionSyntax))
}

func TestRuleManagerMergeOrder(t *testing.T) {
	repo := newMemoryRuleRepo(Rule{
		ID: "shared", BusinessDomain: "DEFAULT", MatchClause: "equals(Action, 'db')", LinkName: "from_db", Enabled: true,
	})
	m, err := NewRuleManager(repo, config.RoutingConfig{
		Rules: map[string]config.RoutingRuleConfig{
			"shared": {MatchClause: "equals(Action, 'cfg')", LinkName: "from_config"},
			"static": {MatchClause: "equals(Action, 'cfg')", LinkName: "static_only"},
		},
	}, "DEFAULT", logger.NopLogger())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.AddRule(ctx, Rule{ID: "shared", MatchClause: "equals(Action, 'dyn')", LinkName: "from_dynamic", Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, "from_dynamic", ruleByID(t, m.Rules("DEFAULT"), "shared").LinkName)

	require.NoError(t, m.Reload(ctx, true))
	shared := ruleByID(t, m.Rules("DEFAULT"), "shared")
	assert.Equal(t, "from_db", shared.LinkName)
	assert.Equal(t, constants.RuleSourceDatabase, shared.Source)
	assert.Equal(t, "static_only", ruleByID(t, m.Rules("DEFAULT"), "static").LinkName)
}

func TestRuleManagerRulesOrderAndDisabled(t *testing.T) {
	m := newManager(t, config.RoutingConfig{})
	ctx := context.Background()

	for _, r := range []Rule{
		{ID: "b", MatchClause: "equals(Action, 'x')", LinkName: "l", Priority: 1, Enabled: true},
		{ID: "a", MatchClause: "equals(Action, 'x')", LinkName: "l", Priority: 1, Enabled: true},
		{ID: "c", MatchClause: "equals(Action, 'x')", LinkName: "l", Priority: 7, Enabled: true},
		{ID: "off", MatchClause: "equals(Action, 'x')", LinkName: "l", Priority: 99},
	} {
		_, err := m.AddRule(ctx, r)
		require.NoError(t, err)
	}

	var ids []string
	for _, r := range m.Rules("") {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
	assert.Len(t, m.List("DEFAULT"), 4)
}

func TestRuleManagerAddRuleValidation(t *testing.T) {
	m := newManager(t, config.RoutingConfig{})
	ctx := context.Background()

	tests := []struct {
		name string
		rule Rule
		code string
	}{
		{name: "missing id", rule: Rule{MatchClause: "equals(Action, 'x')", LinkName: "l"}, code: errors.ErrValidation.Code},
		{name: "missing link", rule: Rule{ID: "r", MatchClause: "equals(Action, 'x')"}, code: errors.ErrValidation.Code},
		{name: "bad clause", rule: Rule{ID: "r", MatchClause: "equals(Colour, 'x')", LinkName: "l"}, code: errors.CodeExpressionSyntax},
		{name: "bad cel", rule: Rule{ID: "r", MatchClause: "cel:attrs[", LinkName: "l"}, code: errors.CodeExpressionSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.AddRule(ctx, tt.rule)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}

func TestRuleManagerCELDialect(t *testing.T) {
	m := newManager(t, config.RoutingConfig{})
	rule, err := m.AddRule(context.Background(), Rule{
		ID:          "cel",
		MatchClause: "cel:'Action' in attrs && attrs['Action'].startsWith('Con')",
		LinkName:    "l",
		Enabled:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, DialectCEL, rule.Dialect)

	matched, err := rule.Match(context.Background(), inbound())
	require.NoError(t, err)
	assert.True(t, matched)

	other := models.NewMessageBuilder().WithDirection(models.DirectionGatewayToBackend).Build()
	matched, err = rule.Match(context.Background(), other)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestRuleManagerDeleteAndPersist(t *testing.T) {
	repo := newMemoryRuleRepo()
	m, err := NewRuleManager(repo, config.RoutingConfig{
		Rules: map[string]config.RoutingRuleConfig{"static": {MatchClause: "equals(Action, 'x')", LinkName: "l"}},
	}, "DEFAULT", logger.NopLogger())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.AddRule(ctx, Rule{ID: "dyn", BusinessDomain: "civil", MatchClause: "equals(Action, 'x')", LinkName: "l", Enabled: true})
	require.NoError(t, err)

	persisted, err := m.PersistRule(ctx, "civil", "dyn")
	require.NoError(t, err)
	assert.Equal(t, constants.RuleSourceDatabase, persisted.Source)
	stored, _ := repo.ListRules(ctx)
	require.Len(t, stored, 1)

	_, err = m.PersistRule(ctx, "civil", "dyn")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, m.DeleteRule(ctx, "civil", "dyn"))
	stored, _ = repo.ListRules(ctx)
	assert.Empty(t, stored)
	assert.Empty(t, m.Rules("civil"))

	assert.True(t, errors.IsNotFound(m.DeleteRule(ctx, "civil", "dyn")))
	assert.True(t, errors.IsConflict(m.DeleteRule(ctx, "DEFAULT", "static")))
}

func TestRuleManagerPersistWithoutRepository(t *testing.T) {
	m := newManager(t, config.RoutingConfig{})
	_, err := m.PersistRule(context.Background(), "", "x")
	assert.Equal(t, errors.ErrServiceUnavailable.Code, errors.CodeOf(err))
	assert.NoError(t, m.ReloadRules(context.Background()))
}

func TestRuleManagerReloadSkipsInvalidStoredRules(t *testing.T) {
	repo := newMemoryRuleRepo(
		Rule{ID: "ok", BusinessDomain: "DEFAULT", MatchClause: "equals(Action, 'x')", LinkName: "l", Enabled: true},
		Rule{ID: "broken", BusinessDomain: "DEFAULT", MatchClause: "equals(", LinkName: "l", Enabled: true},
	)
	m, err := NewRuleManager(repo, config.RoutingConfig{}, "DEFAULT", logger.NopLogger())
	require.NoError(t, err)

	require.NoError(t, m.Reload(context.Background(), true))
	rules := m.Rules("DEFAULT")
	require.Len(t, rules, 1)
	assert.Equal(t, "ok", rules[0].ID)
}

func ruleByID(t *testing.T, rules []Rule, id string) Rule {
	t.Helper()
	for _, r := range rules {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("rule %s not found", id)
	return Rule{}
}
