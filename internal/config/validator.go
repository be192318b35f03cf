package config

import (
	"fmt"
	"strings"
	"time"

	"connector/internal/constants"
	"connector/internal/expression"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateRouting(cfg.Routing); err != nil {
		errors = append(errors, err)
	}

	if err := validateEvidence(cfg.Evidence); err != nil {
		errors = append(errors, err)
	}

	if err := validateLinks(cfg.Links); err != nil {
		errors = append(errors, err)
	}

	if err := validateLock(cfg.Lock); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	switch cfg.Type {
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	queues := map[string]string{
		"broker.kafka.queues.to_connector": cfg.Queues.ToConnector,
		"broker.kafka.queues.to_link":      cfg.Queues.ToLink,
		"broker.kafka.queues.cleanup":      cfg.Queues.Cleanup,
	}
	for field, name := range queues {
		if name == "" {
			return &ValidationError{
				Field:   field,
				Message: "queue name is required",
			}
		}
	}

	if cfg.DLQPrefix == "" {
		return &ValidationError{
			Field:   "broker.kafka.dlq_prefix",
			Message: "dead-letter prefix is required",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.InitialInterval < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if cfg.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI is required",
		}
	}

	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateRouting(cfg RoutingConfig) error {
	if err := validateRules("routing.rules", cfg.Rules); err != nil {
		return err
	}

	for domain, domainCfg := range cfg.Domains {
		if err := validateRules(fmt.Sprintf("routing.domains.%s.rules", domain), domainCfg.Rules); err != nil {
			return err
		}
	}

	if cfg.Reload.IntervalSeconds < 0 {
		return &ValidationError{
			Field:   "routing.reload.interval_seconds",
			Message: "reload interval must be non-negative",
		}
	}

	return nil
}

func validateRules(prefix string, rules map[string]RoutingRuleConfig) error {
	for id, rule := range rules {
		field := fmt.Sprintf("%s.%s", prefix, id)
		if rule.LinkName == "" {
			return &ValidationError{
				Field:   field + ".link_name",
				Message: "link name is required",
			}
		}
		if strings.HasPrefix(rule.MatchClause, constants.CELClausePrefix) {
			continue
		}
		if _, err := expression.Parse(rule.MatchClause); err != nil {
			return &ValidationError{
				Field:   field + ".match_clause",
				Message: err.Error(),
			}
		}
	}
	return nil
}

func validateEvidence(cfg EvidenceConfig) error {
	if !cfg.TimeoutActive {
		return nil
	}

	if cfg.CheckInterval <= 0 {
		return &ValidationError{
			Field:   "evidence.check_interval",
			Message: "check interval must be positive when timeouts are active",
		}
	}

	pairs := []struct {
		field         string
		warn, timeout time.Duration
	}{
		{"evidence.relay_remmd_warn_timeout", cfg.RelayREMMDWarnTimeout, cfg.RelayREMMDTimeout},
		{"evidence.delivery_warn_timeout", cfg.DeliveryWarnTimeout, cfg.DeliveryTimeout},
		{"evidence.retrieval_warn_timeout", cfg.RetrievalWarnTimeout, cfg.RetrievalTimeout},
	}
	for _, p := range pairs {
		if p.warn > 0 && p.timeout > 0 && p.warn >= p.timeout {
			return &ValidationError{
				Field:   p.field,
				Message: fmt.Sprintf("warn timeout %s must be shorter than timeout %s", p.warn, p.timeout),
			}
		}
	}

	return nil
}

func validateLinks(cfg LinksConfig) error {
	if cfg.DispatchTimeout < 0 {
		return &ValidationError{
			Field:   "links.dispatch_timeout",
			Message: "dispatch timeout must be non-negative",
		}
	}

	if cfg.Gateway != nil && len(cfg.Gateway.Partners) > 1 {
		return &ValidationError{
			Field:   "links.gateway.partners",
			Message: fmt.Sprintf("exactly one gateway partner is allowed, got %d", len(cfg.Gateway.Partners)),
		}
	}

	for i, backend := range cfg.Backends {
		if backend.ConfigName == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("links.backends[%d].config_name", i),
				Message: "configuration name is required",
			}
		}
		if backend.PluginName == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("links.backends[%d].plugin", i),
				Message: "plugin name is required",
			}
		}
	}

	return nil
}

func validateLock(cfg LockConfig) error {
	if cfg.TTL <= 0 {
		return &ValidationError{
			Field:   "lock.ttl",
			Message: "lock TTL must be positive",
		}
	}
	if cfg.WaitTimeout < 0 {
		return &ValidationError{
			Field:   "lock.wait_timeout",
			Message: "wait timeout must be non-negative",
		}
	}
	return nil
}
