package models

import "time"

type LinkType string

const (
	LinkTypeGateway LinkType = "GATEWAY"
	LinkTypeBackend LinkType = "BACKEND"
)

type LinkMode string

const (
	LinkModePush LinkMode = "push"
	LinkModePull LinkMode = "pull"
)

// LinkConfiguration binds a plugin implementation to a set of partners.
type LinkConfiguration struct {
	ConfigName string            `json:"config_name" bson:"config_name" mapstructure:"config_name"`
	PluginName string            `json:"plugin" bson:"plugin" mapstructure:"plugin"`
	LinkType   LinkType          `json:"link_type" bson:"link_type" mapstructure:"link_type"`
	Properties map[string]string `json:"properties,omitempty" bson:"properties,omitempty" mapstructure:"properties"`
	Partners   []LinkPartner     `json:"partners" bson:"partners" mapstructure:"partners"`
	UpdatedAt  time.Time         `json:"updated_at" bson:"updated_at" mapstructure:"-"`
}

type LinkPartner struct {
	Name         string            `json:"name" bson:"name" mapstructure:"name"`
	LinkType     LinkType          `json:"link_type" bson:"link_type" mapstructure:"link_type"`
	Enabled      bool              `json:"enabled" bson:"enabled" mapstructure:"enabled"`
	Mode         LinkMode          `json:"mode" bson:"mode" mapstructure:"mode"`
	PullInterval time.Duration     `json:"pull_interval,omitempty" bson:"pull_interval,omitempty" mapstructure:"pull_interval"`
	Properties   map[string]string `json:"properties,omitempty" bson:"properties,omitempty" mapstructure:"properties"`
}

// PartnerType returns the partner's link type, falling back to the configuration's.
func (c LinkConfiguration) PartnerType(p LinkPartner) LinkType {
	if p.LinkType != "" {
		return p.LinkType
	}
	return c.LinkType
}
