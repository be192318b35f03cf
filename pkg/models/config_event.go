package models

import "time"

// ConfigUpdateEvent is broadcast on the config update topic so every
// connector instance reloads the affected configuration.
type ConfigUpdateEvent struct {
	EventType      string                 `json:"event_type"`
	ServiceType    string                 `json:"service_type"`
	RuleID         string                 `json:"rule_id,omitempty"`
	PartnerName    string                 `json:"partner_name,omitempty"`
	BusinessDomain string                 `json:"business_domain,omitempty"`
	Action         string                 `json:"action"`
	Timestamp      time.Time              `json:"timestamp"`
	ChangedBy      string                 `json:"changed_by,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

const (
	EventTypeRoutingRuleUpdated = "routing_rule_updated"
	EventTypeLinkConfigUpdated  = "link_config_updated"
)

const (
	ActionCreate   = "create"
	ActionDelete   = "delete"
	ActionPersist  = "persist"
	ActionReload   = "reload"
	ActionActivate = "activate"
	ActionShutdown = "shutdown"
	ActionReplay   = "replay"
)

const (
	ServiceTypeRouting = "routing"
	ServiceTypeLink    = "link"
)
