package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixLock = "connector:lock:"
)

const (
	DefaultToConnectorQueue = "to_connector"
	DefaultToLinkQueue      = "to_link"
	DefaultCleanupQueue     = "cleanup"
	DLQPrefix               = "DLQ."
)

const (
	MaxDeliveryAttempts  = 5
	RedeliveryDelay      = 60 * time.Second
	RedeliveryMultiplier = 2.0
	MaxRedeliveryDelay   = 30 * time.Minute
)

const (
	DefaultMongoDBName             = "connector"
	DefaultBusinessDomain          = "DEFAULT"
	DefaultTimeoutCheckInterval    = 3 * time.Minute
	DefaultDispatchTimeout         = 30 * time.Second
	DefaultLockTTL                 = 30 * time.Second
	DefaultLockWait                = 5 * time.Second
	DefaultEvidenceMaxOccurrences  = 1
	ConfigUpdateTopicDefault       = "connector_config_updates"
	DefaultLinkPullIntervalSeconds = 30
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	RuleSourceConfig   = "config"
	RuleSourceDynamic  = "dynamic"
	RuleSourceDatabase = "database"
)

const (
	DecisionSourceTargetName   = "target_name"
	DecisionSourceConversation = "conversation"
	DecisionSourceRule         = "rule"
	DecisionSourceDefault      = "default"
)

const (
	LinkPluginKafka = "kafka"
)

const (
	CELClausePrefix = "cel:"
)
