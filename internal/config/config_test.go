package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connector/pkg/models"
)

const baseYAML = `
server:
  port: 8080
broker:
  type: kafka
  kafka:
    brokers: ["localhost:9092"]
    group_id: connector
database:
  postgres:
    host: localhost
    port: 5432
    user: connector
    dbname: connector
    sslmode: disable
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, baseYAML))
	require.NoError(t, err)

	assert.Equal(t, "to_connector", cfg.Broker.Kafka.Queues.ToConnector)
	assert.Equal(t, "to_link", cfg.Broker.Kafka.Queues.ToLink)
	assert.Equal(t, "cleanup", cfg.Broker.Kafka.Queues.Cleanup)
	assert.Equal(t, "DLQ.to_link", cfg.Broker.Kafka.DLQ(cfg.Broker.Kafka.Queues.ToLink))

	assert.Equal(t, 5, cfg.Broker.Kafka.Retry.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Broker.Kafka.Retry.InitialInterval)
	assert.Equal(t, 2.0, cfg.Broker.Kafka.Retry.Multiplier)

	assert.Equal(t, 3*time.Minute, cfg.Evidence.CheckInterval)
	assert.Equal(t, "DEFAULT", cfg.Processing.DefaultBusinessDomain)
	assert.True(t, cfg.Routing.BackendRoutingEnabled)
}

func TestLoadConfigRoutingAndLinks(t *testing.T) {
	body := baseYAML + `
routing:
  default_backend_name: backend_b
  rules:
    contest:
      match_clause: "&(equals(Action, 'ConTest_Form'), equals(ServiceName, 'Connector-TEST'))"
      link_name: backend_a
      priority: 10
  domains:
    civil:
      default_backend_name: backend_civil
evidence:
  timeout_active: true
  check_interval: 1m
  relay_remmd_timeout: 24h
  relay_remmd_warn_timeout: 12h
links:
  autostart: true
  load_env_config: true
  gateway:
    config_name: gw
    plugin: kafka
    link_type: GATEWAY
    partners:
      - name: gw1
        enabled: true
        mode: push
  backends:
    - config_name: backends
      plugin: kafka
      link_type: BACKEND
      partners:
        - name: backend_a
          enabled: true
          mode: pull
          pull_interval: 30s
`
	cfg, err := LoadConfig(writeConfig(t, body))
	require.NoError(t, err)

	require.Contains(t, cfg.Routing.Rules, "contest")
	assert.Equal(t, "backend_a", cfg.Routing.Rules["contest"].LinkName)
	assert.Equal(t, 10, cfg.Routing.Rules["contest"].Priority)
	assert.Equal(t, "backend_civil", cfg.Routing.Domains["civil"].DefaultBackendName)

	assert.Equal(t, 24*time.Hour, cfg.Evidence.RelayREMMDTimeout)

	require.NotNil(t, cfg.Links.Gateway)
	assert.Equal(t, models.LinkTypeGateway, cfg.Links.Gateway.LinkType)
	require.Len(t, cfg.Links.Backends, 1)
	assert.Equal(t, models.LinkModePull, cfg.Links.Backends[0].Partners[0].Mode)
	assert.Equal(t, 30*time.Second, cfg.Links.Backends[0].Partners[0].PullInterval)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateStatic(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8080, ReadTimeoutSeconds: time.Second, WriteTimeoutSeconds: time.Second},
			Broker: BrokerConfig{Type: "kafka", Kafka: KafkaConfig{
				Brokers:   []string{"localhost:9092"},
				GroupID:   "connector",
				Queues:    QueueConfig{ToConnector: "to_connector", ToLink: "to_link", Cleanup: "cleanup"},
				DLQPrefix: "DLQ.",
				Retry:     RetryConfig{MaxAttempts: 5, InitialInterval: time.Minute, Multiplier: 2},
			}},
			Lock: LockConfig{TTL: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "unknown broker",
			mutate:  func(c *Config) { c.Broker.Type = "nats" },
			wantErr: "broker.type",
		},
		{
			name:    "missing dlq prefix",
			mutate:  func(c *Config) { c.Broker.Kafka.DLQPrefix = "" },
			wantErr: "broker.kafka.dlq_prefix",
		},
		{
			name: "rule with bad clause",
			mutate: func(c *Config) {
				c.Routing.Rules = map[string]RoutingRuleConfig{
					"r1": {MatchClause: "equals(Colour, 'red')", LinkName: "b"},
				}
			},
			wantErr: "routing.rules.r1.match_clause",
		},
		{
			name: "cel rule skips grammar check",
			mutate: func(c *Config) {
				c.Routing.Rules = map[string]RoutingRuleConfig{
					"r1": {MatchClause: "cel:attrs['Action'] == 'x'", LinkName: "b"},
				}
			},
		},
		{
			name: "rule without link",
			mutate: func(c *Config) {
				c.Routing.Rules = map[string]RoutingRuleConfig{"r1": {MatchClause: "equals(Action, 'x')"}}
			},
			wantErr: "routing.rules.r1.link_name",
		},
		{
			name: "warn after timeout",
			mutate: func(c *Config) {
				c.Evidence = EvidenceConfig{
					TimeoutActive:         true,
					CheckInterval:         time.Minute,
					RelayREMMDTimeout:     time.Hour,
					RelayREMMDWarnTimeout: 2 * time.Hour,
				}
			},
			wantErr: "evidence.relay_remmd_warn_timeout",
		},
		{
			name: "two gateway partners",
			mutate: func(c *Config) {
				c.Links.Gateway = &models.LinkConfiguration{
					ConfigName: "gw",
					PluginName: "kafka",
					Partners:   []models.LinkPartner{{Name: "a"}, {Name: "b"}},
				}
			},
			wantErr: "links.gateway.partners",
		},
		{
			name:    "zero lock ttl",
			mutate:  func(c *Config) { c.Lock.TTL = 0 },
			wantErr: "lock.ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := ValidateStatic(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
