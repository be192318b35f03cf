package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"connector/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", "10s")
	viper.SetDefault("server.write_timeout_seconds", "10s")

	viper.SetDefault("broker.type", "kafka")
	viper.SetDefault("broker.kafka.queues.to_connector", constants.DefaultToConnectorQueue)
	viper.SetDefault("broker.kafka.queues.to_link", constants.DefaultToLinkQueue)
	viper.SetDefault("broker.kafka.queues.cleanup", constants.DefaultCleanupQueue)
	viper.SetDefault("broker.kafka.dlq_prefix", constants.DLQPrefix)
	viper.SetDefault("broker.kafka.config_update_topic", constants.ConfigUpdateTopicDefault)
	viper.SetDefault("broker.kafka.retry.max_attempts", constants.MaxDeliveryAttempts)
	viper.SetDefault("broker.kafka.retry.initial_interval", constants.RedeliveryDelay.String())
	viper.SetDefault("broker.kafka.retry.multiplier", constants.RedeliveryMultiplier)
	viper.SetDefault("broker.kafka.retry.max_interval", constants.MaxRedeliveryDelay.String())

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("routing.backend_routing_enabled", true)
	viper.SetDefault("routing.reload.interval_seconds", 60)

	viper.SetDefault("evidence.check_interval", constants.DefaultTimeoutCheckInterval.String())

	viper.SetDefault("links.dispatch_timeout", constants.DefaultDispatchTimeout.String())
	viper.SetDefault("links.kafka.outbound_topic_prefix", "link.out.")
	viper.SetDefault("links.kafka.inbound_topic_prefix", "link.in.")
	viper.SetDefault("links.kafka.pull_batch_size", 50)
	viper.SetDefault("links.kafka.pull_wait", "2s")

	viper.SetDefault("processing.default_business_domain", constants.DefaultBusinessDomain)
	viper.SetDefault("processing.cleanup_enabled", true)
	viper.SetDefault("processing.send_generated_evidences_to_backend", true)

	viper.SetDefault("lock.key_prefix", constants.CacheKeyPrefixLock)
	viper.SetDefault("lock.ttl", constants.DefaultLockTTL.String())
	viper.SetDefault("lock.wait_timeout", constants.DefaultLockWait.String())
	viper.SetDefault("lock.retry_interval", "50ms")
}

func bindEnvVariables() {
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.dlq_prefix", "BROKER_KAFKA_DLQ_PREFIX")
	viper.BindEnv("broker.kafka.config_update_topic", "BROKER_KAFKA_CONFIG_UPDATE_TOPIC")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")
	viper.BindEnv("database.run_migrations", "DATABASE_RUN_MIGRATIONS")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")

	viper.BindEnv("routing.default_backend_name", "CONNECTOR_DEFAULT_BACKEND_NAME")
	viper.BindEnv("evidence.timeout_active", "CONNECTOR_EVIDENCE_TIMEOUT_ACTIVE")
	viper.BindEnv("links.autostart", "CONNECTOR_LINKS_AUTOSTART")
	viper.BindEnv("links.fail_on_link_plugin_error", "CONNECTOR_LINKS_FAIL_ON_LINK_PLUGIN_ERROR")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	return nil
}
