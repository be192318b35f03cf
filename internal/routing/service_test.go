package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connector/internal/config"
	"connector/internal/logger"
	"connector/internal/messages"
	"connector/pkg/errors"
	"connector/pkg/logging"
	"connector/pkg/models"
)

const contestClause = "&(equals(Action, 'ConTest_Form'), equals(ServiceName, 'Connector-TEST'))"

func newManager(t *testing.T, cfg config.RoutingConfig) *RuleManager {
	t.Helper()
	m, err := NewRuleManager(nil, cfg, "DEFAULT", logger.NopLogger())
	require.NoError(t, err)
	return m
}

func inbound() *models.Message {
	return models.NewMessageBuilder().
		WithDirection(models.DirectionGatewayToBackend).
		WithAction("ConTest_Form").
		WithService("Connector-TEST", "urn:e-codex:services:").
		Build()
}

func TestSelectPartnerPrecedence(t *testing.T) {
	cfg := config.RoutingConfig{
		BackendRoutingEnabled: true,
		DefaultBackendName:    "default_backend",
		Rules: map[string]config.RoutingRuleConfig{
			"contest": {MatchClause: contestClause, LinkName: "rule_backend", Priority: 10},
		},
	}

	tests := []struct {
		name       string
		prepare    func(repo *messages.MemoryRepository, msg *models.Message)
		cfg        func(c *config.RoutingConfig)
		want       string
		wantSource string
	}{
		{
			name:    "explicit partner kept",
			prepare: func(_ *messages.MemoryRepository, msg *models.Message) { msg.Details.BackendPartnerName = "explicit" },
			want:    "explicit",
		},
		{
			name: "conversation affinity",
			prepare: func(repo *messages.MemoryRepository, msg *models.Message) {
				msg.Details.ConversationID = "conv-1"
				prior := models.NewMessageBuilder().
					WithDirection(models.DirectionBackendToGateway).
					WithBusinessDomain("DEFAULT").
					WithConversationID("conv-1").
					WithBackendPartner("earlier_backend").
					Build()
				_ = repo.Save(context.Background(), prior)
			},
			want: "earlier_backend",
		},
		{
			name: "matching rule",
			want: "rule_backend",
		},
		{
			name:    "default when no rule matches",
			prepare: func(_ *messages.MemoryRepository, msg *models.Message) { msg.Details.Action = "Other" },
			want:    "default_backend",
		},
		{
			name: "rules ignored when backend routing disabled",
			cfg:  func(c *config.RoutingConfig) { c.BackendRoutingEnabled = false },
			want: "default_backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			if tt.cfg != nil {
				tt.cfg(&c)
			}
			repo := messages.NewMemoryRepository()
			msg := inbound()
			if tt.prepare != nil {
				tt.prepare(repo, msg)
			}

			svc := NewService(newManager(t, c), repo, c, StaticGateway("gw"), "DEFAULT", logger.NopLogger())
			ctx := logging.WithBusinessDomain(context.Background(), "DEFAULT")

			got, err := svc.SelectPartner(ctx, msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, msg.Details.BackendPartnerName)
		})
	}
}

func TestSelectPartnerHighestPriorityWins(t *testing.T) {
	cfg := config.RoutingConfig{
		BackendRoutingEnabled: true,
		Rules: map[string]config.RoutingRuleConfig{
			"a": {MatchClause: contestClause, LinkName: "backend_a", Priority: -2000},
			"b": {MatchClause: "equals(Action, 'ConTest_Form')", LinkName: "backend_b", Priority: 0},
		},
	}
	svc := NewService(newManager(t, cfg), nil, cfg, StaticGateway("gw"), "DEFAULT", logger.NopLogger())

	got, err := svc.SelectPartner(context.Background(), inbound())
	require.NoError(t, err)
	assert.Equal(t, "backend_b", got)
}

func TestSelectPartnerTieBreakByRuleID(t *testing.T) {
	cfg := config.RoutingConfig{
		BackendRoutingEnabled: true,
		Rules: map[string]config.RoutingRuleConfig{
			"zeta":  {MatchClause: contestClause, LinkName: "backend_z", Priority: 5},
			"alpha": {MatchClause: contestClause, LinkName: "backend_a", Priority: 5},
		},
	}
	svc := NewService(newManager(t, cfg), nil, cfg, StaticGateway("gw"), "DEFAULT", logger.NopLogger())

	for i := 0; i < 10; i++ {
		got, err := svc.SelectPartner(context.Background(), inbound())
		require.NoError(t, err)
		assert.Equal(t, "backend_a", got)
	}
}

func TestSelectPartnerDomainDefault(t *testing.T) {
	cfg := config.RoutingConfig{
		DefaultBackendName: "global",
		Domains: map[string]config.DomainRoutingConfig{
			"civil": {DefaultBackendName: "civil_backend"},
		},
	}
	svc := NewService(newManager(t, cfg), nil, cfg, StaticGateway("gw"), "DEFAULT", logger.NopLogger())

	ctx := logging.WithBusinessDomain(context.Background(), "civil")
	got, err := svc.SelectPartner(ctx, inbound())
	require.NoError(t, err)
	assert.Equal(t, "civil_backend", got)

	got, err = svc.SelectPartner(context.Background(), inbound())
	require.NoError(t, err)
	assert.Equal(t, "global", got)
}

func TestSelectPartnerGatewayDefault(t *testing.T) {
	cfg := config.RoutingConfig{BackendRoutingEnabled: true}
	svc := NewService(newManager(t, cfg), nil, cfg, StaticGateway("gw1"), "DEFAULT", logger.NopLogger())

	msg := inbound()
	msg.Details.Direction = models.DirectionBackendToGateway
	got, err := svc.SelectPartner(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "gw1", got)
	assert.Equal(t, "gw1", msg.Details.GatewayPartnerName)
}

type gatewayFunc func() string

func (f gatewayFunc) GatewayPartner() string { return f() }

func TestSelectPartnerGatewayResolvedPerDecision(t *testing.T) {
	cfg := config.RoutingConfig{}
	current := ""
	svc := NewService(newManager(t, cfg), nil, cfg, gatewayFunc(func() string { return current }), "DEFAULT", logger.NopLogger())

	outbound := func() *models.Message {
		msg := inbound()
		msg.Details.Direction = models.DirectionBackendToGateway
		return msg
	}

	_, err := svc.SelectPartner(context.Background(), outbound())
	assert.True(t, errors.HasCode(err, errors.CodeNoRoutingTarget))

	current = "gw_db"
	got, err := svc.SelectPartner(context.Background(), outbound())
	require.NoError(t, err)
	assert.Equal(t, "gw_db", got, "gateway activated after startup")
}

func TestSelectPartnerErrors(t *testing.T) {
	cfg := config.RoutingConfig{BackendRoutingEnabled: true}
	svc := NewService(newManager(t, cfg), nil, cfg, StaticGateway(""), "DEFAULT", logger.NopLogger())

	_, err := svc.SelectPartner(context.Background(), inbound())
	assert.True(t, errors.HasCode(err, errors.CodeNoRoutingTarget))
	assert.False(t, errors.IsRetryable(err))

	msg := inbound()
	msg.Details.Direction = ""
	_, err = svc.SelectPartner(context.Background(), msg)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidAddressing))
}

func TestSelectPartnerSkipsFailingCELRule(t *testing.T) {
	cfg := config.RoutingConfig{
		BackendRoutingEnabled: true,
		DefaultBackendName:    "fallback",
		Rules: map[string]config.RoutingRuleConfig{
			"cel": {MatchClause: "cel:attrs['FinalRecipient'] == 'x'", LinkName: "cel_backend", Priority: 100},
		},
	}
	svc := NewService(newManager(t, cfg), nil, cfg, StaticGateway("gw"), "DEFAULT", logger.NopLogger())

	got, err := svc.SelectPartner(context.Background(), inbound())
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
}
