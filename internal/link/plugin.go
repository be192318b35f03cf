// Package link manages the transport plugins of the connector and the link
// partners activated on them.
package link

import (
	"context"
	"slices"
	"time"

	"connector/pkg/models"
)

type Feature string

const (
	FeatureSendPush        Feature = "SEND_PUSH_MODE"
	FeatureReceivePull     Feature = "RCV_PULL_MODE"
	FeatureReceivePassive  Feature = "RCV_PASSIVE_MODE"
	FeaturePartnerShutdown Feature = "SUPPORTS_LINK_PARTNER_SHUTDOWN"
	FeatureLinkShutdown    Feature = "SUPPORTS_LINK_SHUTDOWN"
)

// SubmitResult is the synchronous acknowledgement of a link partner.
type SubmitResult struct {
	RemoteMessageID          string
	TransportSystemMessageID string
	ResultText               string
}

// Submitter hands a message to one link partner.
type Submitter interface {
	Submit(ctx context.Context, msg *models.Message) (SubmitResult, error)
}

type SubmitterFunc func(ctx context.Context, msg *models.Message) (SubmitResult, error)

func (f SubmitterFunc) Submit(ctx context.Context, msg *models.Message) (SubmitResult, error) {
	return f(ctx, msg)
}

// Receiver takes messages pulled from a link partner into the connector.
type Receiver interface {
	Receive(ctx context.Context, partner string, msg *models.Message) error
}

// Puller fetches pending messages from a link partner operating in pull mode
// and returns how many were handed to the receiver.
type Puller interface {
	Pull(ctx context.Context, receiver Receiver) (int, error)
}

// Plugin is a transport implementation selected by the plugin name of a link
// configuration.
type Plugin interface {
	Name() string
	CanHandle(impl string) bool
	SupportedLinkTypes() []models.LinkType
	Features() []Feature

	StartConfiguration(ctx context.Context, cfg models.LinkConfiguration) (*ActiveLink, error)
	ShutdownConfiguration(ctx context.Context, link *ActiveLink) error
	EnableLinkPartner(ctx context.Context, partner models.LinkPartner, link *ActiveLink) (*ActiveLinkPartner, error)
	ShutdownLinkPartner(ctx context.Context, partner *ActiveLinkPartner) error

	Submitter(partner *ActiveLinkPartner) (Submitter, error)
	Puller(partner *ActiveLinkPartner) (Puller, bool)
}

// HasFeature reports whether p advertises f.
func HasFeature(p Plugin, f Feature) bool {
	return slices.Contains(p.Features(), f)
}

// ActiveLink is a started link configuration. Its context is cancelled when
// the configuration shuts down.
type ActiveLink struct {
	Config    models.LinkConfiguration
	Plugin    Plugin
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewActiveLink is used by plugins to return the runtime of a started
// configuration. The link context is detached from ctx cancellation.
func NewActiveLink(ctx context.Context, cfg models.LinkConfiguration, plugin Plugin) *ActiveLink {
	linkCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &ActiveLink{
		Config:    cfg,
		Plugin:    plugin,
		StartedAt: time.Now(),
		ctx:       linkCtx,
		cancel:    cancel,
	}
}

func (l *ActiveLink) Context() context.Context {
	return l.ctx
}

func (l *ActiveLink) stop() {
	if l.cancel != nil {
		l.cancel()
	}
}

// ActiveLinkPartner is an enabled partner of an active link.
type ActiveLinkPartner struct {
	Partner     models.LinkPartner
	Link        *ActiveLink
	ActivatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func NewActiveLinkPartner(partner models.LinkPartner, link *ActiveLink) *ActiveLinkPartner {
	ctx, cancel := context.WithCancel(link.Context())
	return &ActiveLinkPartner{
		Partner:     partner,
		Link:        link,
		ActivatedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (p *ActiveLinkPartner) Name() string {
	return p.Partner.Name
}

func (p *ActiveLinkPartner) LinkType() models.LinkType {
	return p.Link.Config.PartnerType(p.Partner)
}

// Context is cancelled when the partner or its link shuts down.
func (p *ActiveLinkPartner) Context() context.Context {
	return p.ctx
}

func (p *ActiveLinkPartner) stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// PartnerInfo is the JSON view of an active partner.
type PartnerInfo struct {
	Name        string          `json:"name"`
	ConfigName  string          `json:"config_name"`
	Plugin      string          `json:"plugin"`
	LinkType    models.LinkType `json:"link_type"`
	Mode        models.LinkMode `json:"mode"`
	ActivatedAt time.Time       `json:"activated_at"`
}

func (p *ActiveLinkPartner) Info() PartnerInfo {
	return PartnerInfo{
		Name:        p.Partner.Name,
		ConfigName:  p.Link.Config.ConfigName,
		Plugin:      p.Link.Plugin.Name(),
		LinkType:    p.LinkType(),
		Mode:        p.Partner.Mode,
		ActivatedAt: p.ActivatedAt,
	}
}
