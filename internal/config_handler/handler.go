package config_handler

import (
	"context"

	"connector/internal/link"
	"connector/internal/logger"
	"connector/pkg/errors"
	"connector/pkg/models"
)

type ConfigReloader interface {
	ReloadRules(ctx context.Context) error
}

type LinkController interface {
	Activate(ctx context.Context, partner string) (*link.ActiveLinkPartner, error)
	ShutdownLinkPartner(ctx context.Context, name string) error
}

// Handler applies config update events published by any connector instance,
// this one included.
type Handler struct {
	reloader ConfigReloader
	links    LinkController
	logger   logger.Logger
}

func NewHandler(log logger.Logger) *Handler {
	return &Handler{logger: log}
}

func NewHandlerWithReloader(reloader ConfigReloader, log logger.Logger) *Handler {
	return NewHandler(log).WithReloader(reloader)
}

func (h *Handler) WithReloader(reloader ConfigReloader) *Handler {
	h.reloader = reloader
	return h
}

func (h *Handler) WithLinks(links LinkController) *Handler {
	h.links = links
	return h
}

func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, envelope models.MessageEnvelope) error {
	if envelope.Kind != models.EnvelopeKindConfig || envelope.Event == nil {
		h.logger.WarnwCtx(ctx, "Config envelope carries no event", "id", envelope.ID, "kind", envelope.Kind)
		return nil
	}
	event := *envelope.Event

	h.logger.InfowCtx(ctx, "Received config update event",
		"event_type", event.EventType,
		"service_type", event.ServiceType,
		"action", event.Action,
		"rule_id", event.RuleID,
		"partner", event.PartnerName,
		"changed_by", event.ChangedBy,
	)

	switch event.EventType {
	case models.EventTypeRoutingRuleUpdated:
		return h.reloadRules(ctx, event)
	case models.EventTypeLinkConfigUpdated:
		return h.applyLinkEvent(ctx, event)
	default:
		return nil
	}
}

func (h *Handler) reloadRules(ctx context.Context, event models.ConfigUpdateEvent) error {
	if h.reloader == nil {
		return nil
	}
	if err := h.reloader.ReloadRules(ctx); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to reload rules after config update", "error", err)
		return err
	}
	h.logger.InfowCtx(ctx, "Rules reloaded successfully after config update", "action", event.Action)
	return nil
}

// applyLinkEvent brings the local partner to the state named by the event.
// A partner already in that state is left alone.
func (h *Handler) applyLinkEvent(ctx context.Context, event models.ConfigUpdateEvent) error {
	if h.links == nil || event.PartnerName == "" {
		return nil
	}

	var err error
	switch event.Action {
	case models.ActionActivate:
		_, err = h.links.Activate(ctx, event.PartnerName)
		if errors.IsConflict(err) {
			err = nil
		}
	case models.ActionShutdown:
		err = h.links.ShutdownLinkPartner(ctx, event.PartnerName)
		if errors.HasCode(err, errors.CodeLinkPartnerNotActive) {
			err = nil
		}
	default:
		return nil
	}

	if err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to apply link event",
			"error", err,
			"partner", event.PartnerName,
			"action", event.Action,
		)
		return err
	}
	return nil
}
