package config

import (
	"time"

	"connector/pkg/models"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Routing        RoutingConfig        `mapstructure:"routing"`
	Evidence       EvidenceConfig       `mapstructure:"evidence"`
	Links          LinksConfig          `mapstructure:"links"`
	Processing     ProcessingConfig     `mapstructure:"processing"`
	Lock           LockConfig           `mapstructure:"lock"`
	Management     ManagementConfig     `mapstructure:"management"`
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	MongoDB       MongoDBConfig  `mapstructure:"mongodb"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers           []string    `mapstructure:"brokers"`
	GroupID           string      `mapstructure:"group_id"`
	Queues            QueueConfig `mapstructure:"queues"`
	DLQPrefix         string      `mapstructure:"dlq_prefix"`
	ConfigUpdateTopic string      `mapstructure:"config_update_topic"`
	Retry             RetryConfig `mapstructure:"retry"`
}

// QueueConfig names the three connector queues. Each has a dead-letter
// queue named DLQPrefix + name.
type QueueConfig struct {
	ToConnector string `mapstructure:"to_connector"`
	ToLink      string `mapstructure:"to_link"`
	Cleanup     string `mapstructure:"cleanup"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type RoutingConfig struct {
	BackendRoutingEnabled bool                           `mapstructure:"backend_routing_enabled"`
	DefaultBackendName    string                         `mapstructure:"default_backend_name"`
	Rules                 map[string]RoutingRuleConfig   `mapstructure:"rules"`
	Domains               map[string]DomainRoutingConfig `mapstructure:"domains"`
	Reload                ReloadConfig                   `mapstructure:"reload"`
}

// DomainRoutingConfig overrides routing settings for one business domain.
type DomainRoutingConfig struct {
	DefaultBackendName string                       `mapstructure:"default_backend_name"`
	Rules              map[string]RoutingRuleConfig `mapstructure:"rules"`
}

type RoutingRuleConfig struct {
	MatchClause string `mapstructure:"match_clause"`
	LinkName    string `mapstructure:"link_name"`
	Priority    int    `mapstructure:"priority"`
	Description string `mapstructure:"description"`
}

type ReloadConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"`
	JitterMaxMilliseconds int `mapstructure:"jitter_max_milliseconds"`
}

// EvidenceConfig drives the evidence timeout checker. Every duration <= 0
// disables the corresponding sweep or warning.
type EvidenceConfig struct {
	TimeoutActive         bool          `mapstructure:"timeout_active"`
	CheckInterval         time.Duration `mapstructure:"check_interval"`
	RelayREMMDTimeout     time.Duration `mapstructure:"relay_remmd_timeout"`
	RelayREMMDWarnTimeout time.Duration `mapstructure:"relay_remmd_warn_timeout"`
	DeliveryTimeout       time.Duration `mapstructure:"delivery_timeout"`
	DeliveryWarnTimeout   time.Duration `mapstructure:"delivery_warn_timeout"`
	RetrievalTimeout      time.Duration `mapstructure:"retrieval_timeout"`
	RetrievalWarnTimeout  time.Duration `mapstructure:"retrieval_warn_timeout"`

	// MaxOccurrences caps how often one evidence type may be stored per
	// message. Keys are evidence types, case insensitive. Default 1.
	MaxOccurrences map[string]int `mapstructure:"max_occurrences"`
}

type LinksConfig struct {
	Autostart             bool                       `mapstructure:"autostart"`
	LoadDBConfig          bool                       `mapstructure:"load_db_config"`
	LoadEnvConfig         bool                       `mapstructure:"load_env_config"`
	FailOnLinkPluginError bool                       `mapstructure:"fail_on_link_plugin_error"`
	GatewayRequired       bool                       `mapstructure:"gateway_required"`
	DispatchTimeout       time.Duration              `mapstructure:"dispatch_timeout"`
	Gateway               *models.LinkConfiguration  `mapstructure:"gateway"`
	Backends              []models.LinkConfiguration `mapstructure:"backends"`
	Kafka                 KafkaLinkConfig            `mapstructure:"kafka"`
}

// KafkaLinkConfig configures the built-in kafka link plugin.
type KafkaLinkConfig struct {
	OutboundTopicPrefix string        `mapstructure:"outbound_topic_prefix"`
	InboundTopicPrefix  string        `mapstructure:"inbound_topic_prefix"`
	PullBatchSize       int           `mapstructure:"pull_batch_size"`
	PullWait            time.Duration `mapstructure:"pull_wait"`
}

type ProcessingConfig struct {
	DefaultBusinessDomain           string `mapstructure:"default_business_domain"`
	SendGeneratedEvidencesToBackend bool   `mapstructure:"send_generated_evidences_to_backend"`
	CleanupEnabled                  bool   `mapstructure:"cleanup_enabled"`
}

type LockConfig struct {
	KeyPrefix     string        `mapstructure:"key_prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
	WaitTimeout   time.Duration `mapstructure:"wait_timeout"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type ManagementConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

// DLQ returns the dead-letter queue name for queue.
func (k KafkaConfig) DLQ(queue string) string {
	return k.DLQPrefix + queue
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
